package cli

import (
	"time"

	"github.com/spf13/cobra"

	"dwpipe/internal/config"
	"dwpipe/internal/provision"
	"dwpipe/internal/storage"
)

func provisionCmd(e *env) *cobra.Command {
	var (
		bucket    string
		wait      time.Duration
		container string
	)

	c := &cobra.Command{
		Use:   "provision",
		Short: "Create the test bucket (and optionally a blob container) on the local emulators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := e.config()
			em := cfg.Emulator
			if cmd.Flags().Changed("bucket") {
				em.Bucket = bucket
			}
			if cmd.Flags().Changed("wait") {
				em.Wait = wait
			}
			if cmd.Flags().Changed("azure-container") {
				em.AzureContainer = container
			}

			api, err := e.deps.BucketAPI(em)
			if err != nil {
				return err
			}
			opts := provision.Options{
				Bucket: em.Bucket,
				Region: em.Region,
				Wait:   em.Wait,
				Logger: e.logger(),
			}
			if em.AzureContainer != "" {
				if opts.Container, err = e.deps.Container(cfg, em.AzureContainer); err != nil {
					return err
				}
			}

			res, err := provision.New(api, opts).Provision(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	c.Flags().StringVar(&bucket, "bucket", "", "bucket to create (default EMULATOR_BUCKET or test-bucket)")
	c.Flags().DurationVar(&wait, "wait", 0, "delay before the first call (default EMULATOR_WAIT or 5s)")
	c.Flags().StringVar(&container, "azure-container", "", "also create this container on Azurite")
	return c
}

func newAzureContainer(cfg *config.AppConfig, name string) (provision.ContainerEnsurer, error) {
	return storage.NewAzure(cfg.Azure, name)
}
