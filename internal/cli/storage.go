package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dwpipe/internal/storage"
)

var errNoContainer = errors.New("--container is required")

type storageFlags struct {
	backend   string
	container string
}

func storageCmd(e *env) *cobra.Command {
	f := &storageFlags{}

	c := &cobra.Command{
		Use:   "storage",
		Short: "Inspect and move objects in S3 or Azure Blob storage",
	}
	c.PersistentFlags().StringVar(&f.backend, "backend", storage.BackendS3, "storage backend (s3 or azure)")
	c.PersistentFlags().StringVar(&f.container, "container", "", "bucket or blob container")

	c.AddCommand(storageLsCmd(e, f), storageGetCmd(e, f), storagePutCmd(e, f))
	return c
}

func (f *storageFlags) open(cmd *cobra.Command, e *env) (storage.Storage, error) {
	if f.container == "" {
		return nil, errNoContainer
	}
	opener := e.deps.AppOptions.Storage
	if opener == nil {
		opener = storage.NewFactory(e.config())
	}
	return opener.Open(cmd.Context(), f.backend, f.container)
}

func storageLsCmd(e *env, f *storageFlags) *cobra.Command {
	var asJSON bool

	c := &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List objects under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := f.open(cmd, e)
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			objs, err := st.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), objs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, o := range objs {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", o.LastModified.UTC().Format(time.RFC3339), o.Size, o.Key)
			}
			return tw.Flush()
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return c
}

func storageGetCmd(e *env, f *storageFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key> [local-path]",
		Short: "Download an object (to the key's base name by default)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := f.open(cmd, e)
			if err != nil {
				return err
			}
			local := filepath.Base(args[0])
			if len(args) == 2 {
				local = args[1]
			}
			data, err := st.Download(cmd.Context(), args[0], local)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %s (%d bytes) to %s\n", args[0], len(data), local)
			return nil
		},
	}
}

func storagePutCmd(e *env, f *storageFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [folder]",
		Short: "Upload a file as folder/<base name>",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := f.open(cmd, e)
			if err != nil {
				return err
			}
			folder := ""
			if len(args) == 2 {
				folder = args[1]
			}
			info, err := st.UploadFile(cmd.Context(), args[0], folder)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}
}
