package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/content-store/pkg/contentstore/config"
)

// NewPutCommand creates the put command
func NewPutCommand(flags *globalFlags) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "put <file|->",
		Short: "Store a file",
		Long:  `Store a file (or standard input when the argument is "-") and print its content id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open file: %w", err)
				}
				defer file.Close()
				in = file
			}

			client, release, err := openClient(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer release()

			obj, err := client.Put(cmd.Context(), id, in)
			if err != nil {
				return fmt.Errorf("put failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", obj.ID, obj.Length)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "content id to write (default: a new id)")
	return cmd
}

// NewGetCommand creates the get command
func NewGetCommand(flags *globalFlags) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get <content-id>",
		Short: "Fetch content by id",
		Long:  `Write the content to standard output or to the file given with --output.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := openClient(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			if outputPath != "" {
				file, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer file.Close()
				out = file
			}

			if _, err := client.Get(cmd.Context(), args[0], out); err != nil {
				if outputPath != "" {
					os.Remove(outputPath)
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file")
	return cmd
}

// NewRemoveCommand creates the rm command
func NewRemoveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <content-id>...",
		Aliases: []string{"delete"},
		Short:   "Remove content",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := openClient(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer release()

			for _, id := range args {
				if err := client.Remove(cmd.Context(), id); err != nil {
					return fmt.Errorf("remove %s: %w", id, err)
				}
			}
			return nil
		},
	}
}

// NewStatCommand creates the stat command
func NewStatCommand(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stat <content-id>",
		Short: "Show content metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := openClient(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer release()

			result, err := client.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			fmt.Fprintf(out, "ID:       %s\n", result.ID)
			fmt.Fprintf(out, "Backend:  %s\n", result.Backend)
			fmt.Fprintf(out, "Location: %s\n", result.Location)
			fmt.Fprintf(out, "Exists:   %t\n", result.Exists)
			if result.Exists {
				fmt.Fprintf(out, "Size:     %d\n", result.Size)
			}
			if result.LastModified != nil {
				fmt.Fprintf(out, "Modified: %s\n", result.LastModified.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// NewEnvCommand lists the supported environment variables
func NewEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List supported environment variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := config.Usage()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
