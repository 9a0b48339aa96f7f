package ffmpeg

import (
	"strconv"
	"strings"
)

// CommandBuilder builds FFmpeg argument lists with a fluent API.
type CommandBuilder struct {
	binary     string
	logLevel   string
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
}

// NewCommandBuilder creates a builder for the given binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{binary: ffmpegPath, logLevel: "error"}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// NoStdin stops FFmpeg from reading interactive commands.
func (b *CommandBuilder) NoStdin() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-nostdin")
	return b
}

// InputArgs adds arguments placed before -i.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input sets the input; "pipe:0" reads stdin.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// DropVideo discards embedded cover art and other video streams.
func (b *CommandBuilder) DropVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

// AudioCodec sets the audio encoder.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// AudioBitrate sets a constant audio bitrate in bits per second.
func (b *CommandBuilder) AudioBitrate(bps int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", strconv.Itoa(bps))
	return b
}

// AudioChannels sets the output channel count.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	return b
}

// SampleRate sets the output sample rate.
func (b *CommandBuilder) SampleRate(hz int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ar", strconv.Itoa(hz))
	return b
}

// StripMetadata removes tags so no ID3 header is written mid-stream.
func (b *CommandBuilder) StripMetadata() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-map_metadata", "-1", "-write_xing", "0", "-id3v2_version", "0")
	return b
}

// Format sets the output container format.
func (b *CommandBuilder) Format(format string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", format)
	return b
}

// Output sets the output; "pipe:1" writes stdout.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Command is a built FFmpeg invocation.
type Command struct {
	Binary string
	Args   []string
}

// Build assembles the argument list.
func (b *CommandBuilder) Build() *Command {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)
	return &Command{Binary: b.binary, Args: args}
}

// String returns the command line.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}
