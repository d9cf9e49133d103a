// Command tributary runs the broker (`tributary serve`) and ships a small
// admin client (`tributary create-topic`).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sreeharsha-v/tributary/internal/broker"
	"github.com/sreeharsha-v/tributary/internal/config"
	"github.com/sreeharsha-v/tributary/internal/log"
	"github.com/sreeharsha-v/tributary/internal/topics"
	"github.com/sreeharsha-v/tributary/pkg/client"
	"github.com/sreeharsha-v/tributary/pkg/protocol"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tributary",
		Short:         "tributary is a partitioned, append-only message broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), createTopicCmd())
	return root
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker and serve client connections until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log.SetLevelString(cfg.LogLevel)
			return serve(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	commands := make(chan topics.Command)
	manager := topics.NewManager(cfg.DataDir,
		topics.WithPartitionChannelSize(cfg.Broker.PartitionChannelSize))

	server := broker.NewServer(cfg.ListenAddr, commands)
	if err := server.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		manager.Run(ctx, commands)
		return nil
	})
	g.Go(func() error {
		return server.Serve(ctx)
	})

	err := g.Wait()
	log.Info("broker stopped")
	return err
}

func createTopicCmd() *cobra.Command {
	var (
		brokerAddr        string
		name              string
		partitions        uint32
		replicationFactor uint32
		retentionMs       int64
		batchSize         uint32
	)

	cmd := &cobra.Command{
		Use:   "create-topic",
		Short: "Create a topic on a running broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(brokerAddr)
			ack, err := c.CreateTopic(cmd.Context(), protocol.Topic{
				Name:              name,
				NumPartitions:     partitions,
				ReplicationFactor: replicationFactor,
				RetentionPeriodMs: retentionMs,
				BatchSize:         batchSize,
			})
			if err != nil {
				return err
			}
			fmt.Println(ack)
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerAddr, "broker", "127.0.0.1:9460", "broker address")
	cmd.Flags().StringVar(&name, "name", "", "topic name")
	cmd.Flags().Uint32Var(&partitions, "partitions", 1, "number of partitions")
	cmd.Flags().Uint32Var(&replicationFactor, "replication-factor", 0, "advisory replication factor")
	cmd.Flags().Int64Var(&retentionMs, "retention-ms", 0, "advisory retention period in milliseconds")
	cmd.Flags().Uint32Var(&batchSize, "batch-size", 0, "advisory max records per batch")
	cmd.MarkFlagRequired("name")
	return cmd
}
