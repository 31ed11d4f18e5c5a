package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/eligibility"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/qa"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <fields.json|->",
	Short: "Normalize raw extracted fields into a canonical record",
	Long: `Normalize reads either a stored extraction result or a flat JSON object of
raw field values and prints the normalized record. Unknown fields are
dropped; values that cannot take their declared shape are kept with a
warning.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		schema, err := loadSchema(cfg)
		if err != nil {
			return err
		}
		order := normalize.ParseDateOrder(cfg.Pipeline.DateOrder)
		if o, _ := cmd.Flags().GetString("date-order"); o != "" {
			order = normalize.ParseDateOrder(o)
		}
		n := normalize.New(schema, order, newLogger(cfg))

		var raw map[string]json.RawMessage
		if err := readJSON(args[0], &raw); err != nil {
			return err
		}
		rec, err := normalizeInput(n, raw, refOrPath(cmd, "ref", args[0]))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <record.json|->",
	Short: "Run QA checks on a normalized record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		schema, err := loadSchema(cfg)
		if err != nil {
			return err
		}
		var rec entity.NormalizedRecord
		if err := readJSON(args[0], &rec); err != nil {
			return err
		}
		rec.Materialize()
		v := qa.NewValidator(qa.Config{
			ConfidenceThreshold:   cfg.Pipeline.ConfidenceThreshold,
			CompletenessThreshold: cfg.Pipeline.CompletenessThreshold,
			IntegrityThreshold:    cfg.Pipeline.IntegrityThreshold,
		}, newLogger(cfg))
		res := v.Validate(&rec, schema)
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if failOnAdmin, _ := cmd.Flags().GetBool("strict"); failOnAdmin && res.AdminRequired {
			return fmt.Errorf("record %s needs review", rec.ID)
		}
		return nil
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score --profile profile.json <record.json>...",
	Short: "Score and rank records for an applicant profile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		profilePath, _ := cmd.Flags().GetString("profile")
		if profilePath == "" {
			return fmt.Errorf("--profile is required")
		}
		var profile entity.ApplicantProfile
		if err := readJSON(profilePath, &profile); err != nil {
			return err
		}

		records := make([]*entity.NormalizedRecord, 0, len(args))
		for _, p := range args {
			var rec entity.NormalizedRecord
			if err := readJSON(p, &rec); err != nil {
				return err
			}
			rec.Materialize()
			records = append(records, &rec)
		}

		sc := eligibility.DefaultConfig()
		if cfg.Pipeline.PenaltyPerMissingDoc > 0 {
			sc.PenaltyPerMissingDoc = cfg.Pipeline.PenaltyPerMissingDoc
		}
		ranked := eligibility.NewScorer(sc, newLogger(cfg)).Rank(profile, records)
		return printJSON(cmd.OutOrStdout(), ranked)
	},
}

// normalizeInput accepts a stored extraction result (it has "adapter" and
// "fields") or a flat field map.
func normalizeInput(n *normalize.Normalizer, raw map[string]json.RawMessage, ref string) (*entity.NormalizedRecord, error) {
	_, hasAdapter := raw["adapter"]
	_, hasFields := raw["fields"]
	if hasAdapter && hasFields {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		var res entity.ExtractionResult
		if err := json.Unmarshal(b, &res); err != nil {
			return nil, fmt.Errorf("decode extraction result: %w", err)
		}
		return n.Normalize(&res), nil
	}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		fields[k] = val
	}
	return n.NormalizeMap(ref, fields), nil
}

func refOrPath(cmd *cobra.Command, flag, fallback string) string {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v
	}
	if fallback == "-" {
		return "stdin"
	}
	return fallback
}

func init() {
	normalizeCmd.Flags().String("ref", "", "document reference for a flat field map (default: the input path)")
	normalizeCmd.Flags().String("date-order", "", "dmy or mdy (default from config)")
	validateCmd.Flags().Bool("strict", false, "exit non-zero when the record needs admin review")
	scoreCmd.Flags().String("profile", "", "applicant profile JSON file")

	rootCmd.AddCommand(normalizeCmd, validateCmd, scoreCmd)
}
