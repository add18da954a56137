package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	comdoc "github.com/ozgen/go-comdoc"
)

var (
	flagStrict  bool
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "comdoc",
		Short:         "Inspect and edit compound file binary images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&flagStrict, "strict", false, "strict validation of the input file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(infoCmd(), lsCmd(), catCmd(), putCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openOptions() []comdoc.Option {
	opts := make([]comdoc.Option, 0, 2)

	if flagStrict {
		opts = append(opts, comdoc.WithValidation(comdoc.ValidationStrict))
	}

	if flagVerbose {
		log, err := zap.NewDevelopment()
		if err == nil {
			opts = append(opts, comdoc.WithLogger(log))
		}
	}

	return opts
}

func openDocument(path string) (*comdoc.CompoundFile, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	doc, err := comdoc.Open(f, openOptions()...)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	return doc, f, nil
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Print header geometry and table sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, f, err := openDocument(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			h := doc.Header
			fmt.Printf("version:          %v.%#x\n", int(h.Version), h.MinorVersion)
			fmt.Printf("sector length:    %v\n", h.SectorLen())
			fmt.Printf("mini sector len:  %v\n", h.MiniSectorLen())
			fmt.Printf("FAT sectors:      %v\n", h.NumFatSectors)
			fmt.Printf("miniFAT sectors:  %v\n", h.NumMinifatSectors)
			fmt.Printf("directory start:  %v\n", int32(h.FirstDirSector))
			fmt.Printf("entries:          %v\n", len(doc.Directory.DirEntries))

			return nil
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <file>",
		Short: "List every storage and stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, f, err := openDocument(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Path", "Type", "Size"})
			table.SetBorder(false)

			for _, entry := range doc.List() {
				size := ""
				if entry.ObjType == comdoc.Stream {
					size = fmt.Sprintf("%d", entry.StreamLen)
				}

				table.Append([]string{entry.Path, entry.ObjType.String(), size})
			}

			table.Render()
			return nil
		},
	}
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <file> <stream-path>",
		Short: "Copy a stream's payload to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, f, err := openDocument(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			stream, err := doc.OpenStream(args[1])
			if err != nil {
				return err
			}

			_, err = io.Copy(os.Stdout, stream)
			return err
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <file> <stream-path>",
		Short: "Write stdin into a stream, creating the file when absent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}

			var doc *comdoc.CompoundFile
			var f *os.File

			if _, statErr := os.Stat(args[0]); os.IsNotExist(statErr) {
				f, err = os.OpenFile(args[0], os.O_RDWR|os.O_CREATE, 0o644)
				if err != nil {
					return err
				}
				doc, err = comdoc.Create(f, openOptions()...)
			} else {
				f, err = os.OpenFile(args[0], os.O_RDWR, 0o644)
				if err != nil {
					return err
				}
				doc, err = comdoc.OpenWritable(f, openOptions()...)
			}
			if err != nil {
				f.Close()
				return err
			}
			defer f.Close()

			w, err := doc.CreateStream(args[1])
			if err != nil {
				return err
			}

			if _, err := w.Write(payload); err != nil {
				return err
			}

			if err := w.Close(); err != nil {
				return err
			}

			return doc.Close()
		},
	}
}
