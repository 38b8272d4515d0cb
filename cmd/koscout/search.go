package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/koscout/internal/app"
	"github.com/ternarybob/koscout/internal/common"
	"github.com/ternarybob/koscout/internal/models"
	"gopkg.in/yaml.v3"
)

var searchCmd = &cobra.Command{
	Use:   "search [underlying]",
	Short: "Search knock-out products for an underlying",
	Long: `Runs one knock-out search and prints the response as JSON. Criteria default to
the [filter] section of the configuration; flags override them per run.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var (
	searchPrice       float64
	searchRefresh     bool
	searchMinLeverage float64
	searchMaxSpread   float64
	searchMinDistance float64
	searchTopN        int
	searchIssuers     []string
	searchBroker      string
	searchFeatures    []string
	searchOutput      string
)

func init() {
	f := searchCmd.Flags()
	f.Float64Var(&searchPrice, "price", 0, "Current underlying price (enables live distance and EV scoring)")
	f.BoolVar(&searchRefresh, "refresh", false, "Bypass the response cache")
	f.Float64Var(&searchMinLeverage, "min-leverage", 0, "Minimum leverage")
	f.Float64Var(&searchMaxSpread, "max-spread", 0, "Maximum spread in percent")
	f.Float64Var(&searchMinDistance, "min-distance", 0, "Minimum distance to barrier in percent")
	f.IntVar(&searchTopN, "top-n", 0, "Products per direction")
	f.StringSliceVar(&searchIssuers, "issuers", nil, "Allowed issuers (comma separated)")
	f.StringVar(&searchBroker, "broker", "", "Broker discriminator for the search URL")
	f.StringSliceVar(&searchFeatures, "features", nil, "Feature discriminators for the search URL")
	f.StringVarP(&searchOutput, "output", "o", "json", "Output format: json, compact or yaml")
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	keepLogsOffStdout()

	switch searchOutput {
	case "json", "compact", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", searchOutput)
	}

	criteria, err := searchCriteria(cmd, config.Filter)
	if err != nil {
		return err
	}

	var price *float64
	if cmd.Flags().Changed("price") {
		if searchPrice <= 0 {
			return fmt.Errorf("price must be positive")
		}
		price = &searchPrice
	}

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp := application.KnockoutService.Search(ctx, args[0], criteria, price, searchRefresh)

	if err := writeResponse(os.Stdout, resp, searchOutput); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	if resp.Meta.LongStatus != models.StatusOK && resp.Meta.ShortStatus != models.StatusOK {
		return fmt.Errorf("search failed: long=%s short=%s", resp.Meta.LongStatus, resp.Meta.ShortStatus)
	}
	return nil
}

// searchCriteria overlays the flags that were set on the configured defaults.
func searchCriteria(cmd *cobra.Command, defaults models.FilterConfig) (models.FilterConfig, error) {
	criteria := defaults
	flags := cmd.Flags()

	if flags.Changed("min-leverage") {
		criteria.MinLeverage = searchMinLeverage
	}
	if flags.Changed("max-spread") {
		criteria.MaxSpreadPct = searchMaxSpread
	}
	if flags.Changed("min-distance") {
		criteria.MinDistancePct = searchMinDistance
	}
	if flags.Changed("top-n") {
		criteria.TopN = searchTopN
	}

	issuers := defaults.Issuers
	if flags.Changed("issuers") {
		issuers = searchIssuers
	}

	opts := []models.FilterOption{models.WithBroker(defaults.Broker), models.WithFeatures(defaults.Features...)}
	if flags.Changed("broker") {
		opts = append(opts, models.WithBroker(searchBroker))
	}
	if flags.Changed("features") {
		opts = append(opts, models.WithFeatures(searchFeatures...))
	}

	return models.NewFilterConfig(criteria.MinLeverage, criteria.MaxSpreadPct, criteria.MinDistancePct, criteria.TopN, issuers, opts...)
}

// keepLogsOffStdout drops console logging so stdout carries only JSON.
func keepLogsOffStdout() {
	var outputs []string
	for _, o := range config.Logging.Output {
		if o != "stdout" && o != "console" {
			outputs = append(outputs, o)
		}
	}
	if len(outputs) == len(config.Logging.Output) {
		return
	}
	config.Logging.Output = outputs
	logger = common.InitLogger(config)
}

// writeResponse renders resp in the requested format. YAML output keeps the
// JSON field names.
func writeResponse(w io.Writer, resp *models.SearchResponse, format string) error {
	switch format {
	case "yaml":
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "compact":
		return json.NewEncoder(w).Encode(resp)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
}
