package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-water/internal/config"
	"github.com/joeblew999/plat-water/internal/log"
	"github.com/joeblew999/plat-water/internal/metrics"
	"github.com/joeblew999/plat-water/internal/server"
	"github.com/joeblew999/plat-water/internal/service"
	"github.com/joeblew999/plat-water/pkg/waterclient"
)

// Options defines all CLI flags and env vars for the viewer server.
// Flags: --host, --port, --data-dir, --web-dir, --config, --backend-url, --debug
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, ...
type Options struct {
	Host       string `doc:"Host to bind to" default:"0.0.0.0"`
	Port       int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir    string `doc:"Directory for the export ledger" default:".data"`
	WebDir     string `doc:"Optional web/ directory with static files and template overrides"`
	Config     string `doc:"YAML configuration file" short:"c" default:"water.yaml"`
	BackendURL string `doc:"Analysis backend URL, overrides the config file"`
	Debug      bool   `doc:"Development logging"`
}

func newServer(opts *Options) (*server.Server, error) {
	if err := log.Init(opts.Debug); err != nil {
		return nil, err
	}
	return server.New(server.Config{
		Host:       opts.Host,
		Port:       fmt.Sprintf("%d", opts.Port),
		DataDir:    opts.DataDir,
		WebDir:     opts.WebDir,
		ConfigPath: opts.Config,
		BackendURL: opts.BackendURL,
	})
}

// loadSettings reads the config file the way the server does, for the
// one-shot commands.
func loadSettings(opts *Options) (config.Config, *waterclient.Client, error) {
	settings, err := config.Load(opts.Config)
	if err != nil {
		return settings, nil, err
	}
	if opts.BackendURL != "" {
		settings.Backend.URL = opts.BackendURL
	}
	client := waterclient.New(settings.Backend.URL, waterclient.Options{
		TileBase:      settings.Backend.TileURL,
		Timeout:       settings.Backend.Timeout,
		MaxConcurrent: settings.Backend.MaxConcurrent,
		OnRequest:     metrics.ObserveBackend,
	})
	return settings, client, nil
}

// paramsFromFlags overlays --start and --end on the configured defaults.
func paramsFromFlags(cmd *cobra.Command, settings config.Config) (service.ParameterSet, error) {
	p := settings.Defaults
	if v, _ := cmd.Flags().GetString("start"); v != "" {
		p.TimeStart = v
	}
	if v, _ := cmd.Flags().GetString("end"); v != "" {
		p.TimeEnd = v
	}
	if v, _ := cmd.Flags().GetBool("climatology"); v {
		p.Climatology = true
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	if d, warning := settings.Limits.CheckPeriod(p); d != service.RefreshIssued {
		return p, fmt.Errorf("%s", warning)
	}
	return p, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var srv *server.Server
		var httpServer *http.Server

		hooks.OnStart(func() {
			var err error
			if srv, err = newServer(opts); err != nil {
				fail(err)
			}
			defer log.Sync()

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-water viewer starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Backend: %s\n", srv.Settings().Backend.URL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Viewer:  %s/\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			httpServer = &http.Server{Addr: addr, Handler: srv}
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Logger().Fatal("server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			if httpServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(ctx)
			}
			if srv != nil {
				srv.Close()
			}
		})
	})

	cli.Root().Use = "water"
	cli.Root().Short = "Surface water viewer backed by a remote analysis service"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.DataDir = "" // in-memory ledger, nothing touches disk
			srv, err := newServer(opts)
			if err != nil {
				fail(err)
			}
			defer srv.Close()
			spec := srv.API().OpenAPI()

			var output []byte
			if useYAML, _ := cmd.Flags().GetBool("yaml"); useYAML {
				output, err = spec.YAML()
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fail(fmt.Errorf("marshaling spec: %w", err))
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// refresh subcommand: request a water map once and print its tile URL
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Compute a water map for a period and print its tile URL",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			settings, client, err := loadSettings(opts)
			if err != nil {
				fail(err)
			}
			p, err := paramsFromFlags(cmd, settings)
			if err != nil {
				fail(err)
			}
			src, err := client.WaterMap(cmd.Context(), p)
			if err != nil {
				fail(err)
			}
			fmt.Println(src.URL)
		}),
	}
	refreshCmd.Flags().String("start", "", "First day (YYYY-MM-DD), defaults from config")
	refreshCmd.Flags().String("end", "", "Last day (YYYY-MM-DD), defaults from config")
	refreshCmd.Flags().Bool("climatology", false, "Aggregate to a single calendar month")
	cli.Root().AddCommand(refreshCmd)

	// export subcommand: export a GeoJSON polygon and write the metadata table
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the water map inside a GeoJSON polygon",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			settings, client, err := loadSettings(opts)
			if err != nil {
				fail(err)
			}
			p, err := paramsFromFlags(cmd, settings)
			if err != nil {
				fail(err)
			}
			polygon, _ := cmd.Flags().GetString("polygon")
			data, err := os.ReadFile(polygon)
			if err != nil {
				fail(err)
			}
			ring, err := service.ParsePolygonRing(data)
			if err != nil {
				fail(err)
			}
			area := service.PolygonAreaKm2(ring)
			tier := settings.Limits.Tier(area)
			if w := settings.Limits.AreaWarning(tier, true); w != "" {
				fmt.Fprintln(os.Stderr, w)
			}
			if tier == service.AreaHard {
				os.Exit(1)
			}

			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = p.DefaultExportName()
			}
			link, err := client.ExportDrawn(cmd.Context(), p, ring, name)
			if err != nil {
				fail(err)
			}
			fmt.Println(link)

			outDir, _ := cmd.Flags().GetString("output")
			csvPath := filepath.Join(outDir, name+".csv")
			if err := os.WriteFile(csvPath, p.MetadataCSV(), 0o644); err != nil {
				fail(err)
			}
			fmt.Fprintf(os.Stderr, "Metadata written to %s\n", csvPath)
		}),
	}
	exportCmd.Flags().String("start", "", "First day (YYYY-MM-DD), defaults from config")
	exportCmd.Flags().String("end", "", "Last day (YYYY-MM-DD), defaults from config")
	exportCmd.Flags().Bool("climatology", false, "Aggregate to a single calendar month")
	exportCmd.Flags().String("polygon", "", "GeoJSON file with the export polygon")
	exportCmd.Flags().String("name", "", "Export name, defaults to SurfaceWaterTool_<start>_<end>")
	exportCmd.Flags().StringP("output", "o", ".", "Directory for the metadata CSV")
	exportCmd.MarkFlagRequired("polygon")
	cli.Root().AddCommand(exportCmd)

	cli.Run()
}
