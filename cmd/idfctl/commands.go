package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelkehle/idf-drafter/internal/decoder"
	"github.com/joelkehle/idf-drafter/internal/idf"
	"github.com/joelkehle/idf-drafter/internal/layout"
	"github.com/joelkehle/idf-drafter/internal/logging"
	"github.com/joelkehle/idf-drafter/internal/render"
	"github.com/joelkehle/idf-drafter/internal/render/chromium"
	"github.com/joelkehle/idf-drafter/internal/render/inspect"
	"github.com/joelkehle/idf-drafter/internal/render/preview"
	"github.com/joelkehle/idf-drafter/internal/render/raster"
)

type rootOptions struct {
	logLevel string
	timeout  time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "idfctl",
		Short:         "Offline tools for Invention Disclosure Form records",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall operation timeout")

	cmd.AddCommand(newRenderCommand(opts), newDecodeCommand(), newInspectCommand())
	return cmd
}

type renderOptions struct {
	out         string
	format      string
	page        int
	fontRegular string
	fontBold    string
	figures     string
	dpi         float64
	chromePath  string
}

func newRenderCommand(root *rootOptions) *cobra.Command {
	o := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render <record.json>",
		Short: "Lay out a Record and write it as pdf, png, html or layout json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			return runRender(ctx, root, o, args[0], cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.out, "out", "o", "", "output file (default: derived from the title, or stdout for json/html)")
	f.StringVarP(&o.format, "format", "f", "pdf", "pdf, png, html or json")
	f.IntVar(&o.page, "page", 1, "page to draw for png")
	f.StringVar(&o.fontRegular, "font-regular", "", "TTF used for regular text")
	f.StringVar(&o.fontBold, "font-bold", "", "TTF used for bold text")
	f.StringVar(&o.figures, "figures", ".", "directory figure references are resolved against")
	f.Float64Var(&o.dpi, "dpi", 150, "png resolution")
	f.StringVar(&o.chromePath, "chrome-path", "", "Chromium binary for pdf output")
	return cmd
}

func runRender(ctx context.Context, root *rootOptions, o *renderOptions, path string, stdout io.Writer) error {
	log, err := logging.New("development", root.logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	var rec idf.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("parse record %s: %w", path, err)
	}

	fonts := layout.DefaultFontMetrics()
	if o.fontRegular != "" || o.fontBold != "" {
		if fonts, err = layout.LoadFontMetrics(o.fontRegular, o.fontBold); err != nil {
			return err
		}
	}
	images := layout.DirImages{Root: o.figures}
	brand := layout.DefaultBranding()

	if strings.EqualFold(o.format, "html") {
		h, err := preview.HTML(rec, brand)
		if err != nil {
			return err
		}
		return emit(stdout, o.out, []byte(h))
	}

	engine := layout.New(fonts, layout.WithImages(images), layout.WithBranding(brand), layout.WithLogger(log))
	doc, err := engine.Layout(ctx, rec)
	if err != nil {
		return err
	}

	switch strings.ToLower(o.format) {
	case "json":
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		return emit(stdout, o.out, out)
	case "png":
		f, err := create(o.out, strings.TrimSuffix(render.ExportFilename(rec.Title), ".pdf")+fmt.Sprintf("-p%d.png", o.page))
		if err != nil {
			return err
		}
		defer f.Close()
		if err := raster.New(fonts, images, o.dpi, log).RenderPage(ctx, doc, o.page, f); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s (page %d of %d)\n", f.Name(), o.page, len(doc.Pages))
		return nil
	case "pdf":
		opts := []chromium.Option{chromium.WithLogger(log)}
		if o.chromePath != "" {
			opts = append(opts, chromium.WithChromePath(o.chromePath))
		}
		pdf, err := chromium.New(fonts, images, opts...).Render(ctx, doc, render.Meta{
			Title: rec.Title, Subject: brand.FormTitle, Author: brand.Institution,
		})
		if err != nil {
			return err
		}
		name := o.out
		if name == "" {
			name = render.ExportFilename(rec.Title)
		}
		if err := os.WriteFile(name, pdf, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s (%d pages)\n", name, len(doc.Pages))
		return nil
	default:
		return fmt.Errorf("unknown format %q (want pdf, png, html or json)", o.format)
	}
}

func emit(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func create(path, fallback string) (*os.File, error) {
	if path == "" {
		path = fallback
	}
	return os.Create(path)
}

func newDecodeCommand() *cobra.Command {
	var shape, field string
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Run the response decoder on stdin and print the result as json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var s idf.Shape
			switch shape {
			case "scalar":
				s = idf.ShapeScalar
			case "records", string(idf.ShapeRecords):
				s = idf.ShapeRecords
			default:
				return fmt.Errorf("unknown shape %q (want scalar or records)", shape)
			}
			if field != "" {
				var err error
				if s, err = idf.ShapeOf(field); err != nil {
					return err
				}
			}
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			res, err := decoder.Decode(string(raw), s)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&shape, "shape", "records", "target shape: scalar or records")
	cmd.Flags().StringVar(&field, "field", "", "field path; overrides --shape with the field's shape")
	return cmd
}

func newInspectCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <file.pdf>",
		Short: "Print the page count and text of an exported PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rep, err := inspect.Read(data)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(rep)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pages: %d\n", rep.PageCount())
			for _, p := range rep.Pages {
				fmt.Fprintf(cmd.OutOrStdout(), "\n--- page %d ---\n%s\n", p.Number, p.Text)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print json")
	return cmd
}
