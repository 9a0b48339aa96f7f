package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/radiarr/internal/models"
)

var stationCmd = &cobra.Command{
	Use:   "station",
	Short: "Station management commands",
	Long: `Create stations and seed their playlists directly in the database.

A running server picks new stations up on its next reconcile pass. Changes
to existing stations reach it once its station cache expires, or at once via
POST /api/v1/stations/{stationId}/invalidate.`,
}

var stationCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a station",
	Args:  cobra.NoArgs,
	RunE:  runStationCreate,
}

var stationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stations",
	Args:  cobra.NoArgs,
	RunE:  runStationList,
}

var stationDeleteCmd = &cobra.Command{
	Use:   "delete <station-id>",
	Short: "Delete a station and its playlist files",
	Args:  cobra.ExactArgs(1),
	RunE:  runStationDelete,
}

var stationImportCmd = &cobra.Command{
	Use:   "import-audio <station-id> <file>...",
	Short: "Append audio files to a station's playlist",
	Long: `Upload audio files to the configured storage backend and append them to the
station's playlist in the order given. Title, artist and album are read from
the files' tags.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runStationImport,
}

func init() {
	rootCmd.AddCommand(stationCmd)
	stationCmd.AddCommand(stationCreateCmd, stationListCmd, stationDeleteCmd, stationImportCmd)

	stationCreateCmd.Flags().String("id", "", "station id (default generated)")
	stationCreateCmd.Flags().String("name", "", "display name")
	stationCreateCmd.Flags().String("password", "", "source password (default generated)")
	stationCreateCmd.Flags().String("relay-url", "", "external stream to relay when no source is live")
	_ = stationCreateCmd.MarkFlagRequired("name")
}

func runStationCreate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := openCore(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	flags := cmd.Flags()
	station := &models.Station{}
	station.ID, _ = flags.GetString("id")
	station.Name, _ = flags.GetString("name")
	station.SourcePassword, _ = flags.GetString("password")
	station.RelayURL, _ = flags.GetString("relay-url")

	generated := station.SourcePassword == ""
	if generated {
		station.SourcePassword = generatePassword()
	}

	if err := c.service.Create(cmd.Context(), station); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "created station %s (%s)\n", station.ID, station.Name)
	fmt.Fprintf(out, "source mount: /%s/source\n", station.ID)
	if generated {
		fmt.Fprintf(out, "source password: %s\n", station.SourcePassword)
	}
	return nil
}

func runStationList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := openCore(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	stations, err := c.service.List(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRELAY\tOWNER")
	for _, s := range stations {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.RelayURL, s.Owner.DeploymentID)
	}
	return w.Flush()
}

func runStationDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := openCore(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.service.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted station %s\n", args[0])
	return nil
}

func runStationImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := openCore(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	stationID := args[0]
	for _, name := range args[1:] {
		if err := importFile(cmd, c, stationID, name); err != nil {
			return err
		}
	}
	return nil
}

func importFile(cmd *cobra.Command, c *core, stationID, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	file, err := c.service.ImportAudio(cmd.Context(), stationID, filepath.Base(name), f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", file.ID, file.DisplayName())
	return nil
}

func generatePassword() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
