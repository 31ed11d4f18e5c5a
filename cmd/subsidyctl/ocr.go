package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr <file.pdf>",
	Short: "Recover page text from a PDF (text layer, OCR fallback)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		maxPages, _ := cmd.Flags().GetInt("max-pages")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		x := ocr.NewExtractor(ocr.Config{
			TesseractLang: cfg.OCR.TesseractLang,
			TessdataDir:   cfg.OCR.TessdataDir,
			DPI:           cfg.OCR.DPI,
			MaxPages:      maxPages,
		}, newLogger(cfg))
		res, err := x.ExtractPDF(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "method=%s pages=%d confidence=%.2f\n", res.Method, len(res.Pages), res.Confidence())
		fmt.Fprintln(cmd.OutOrStdout(), res.Text())
		return nil
	},
}

func init() {
	ocrCmd.Flags().Int("max-pages", 0, "stop after this many pages (0 = all)")
	ocrCmd.Flags().Duration("timeout", 2*time.Minute, "overall time limit")
	ocrCmd.Flags().Bool("json", false, "print pages as JSON")
	rootCmd.AddCommand(ocrCmd)
}
