package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/depot/services/bagtrack/config"
	"example.com/depot/services/bagtrack/internal/audit"
	"example.com/depot/services/bagtrack/internal/db"
	"example.com/depot/services/bagtrack/internal/messagebus"
	"example.com/depot/services/bagtrack/internal/search"
)

var (
	startTime string
	endTime   string
)

var republishAuditCmd = &cobra.Command{
	Use:   "republish_audit",
	Short: "Republish mutation records to the audit queue",
	Run: func(cmd *cobra.Command, args []string) {
		// Load configuration
		cfg, err := config.Load()
		if err != nil {
			logrus.Fatalf("Failed to load configuration: %v", err)
		}

		// Parse time range
		start, err := time.Parse(time.DateTime, startTime)
		if err != nil {
			logrus.Fatalf("Failed to parse start time: %v", err)
		}

		var end time.Time
		if endTime == "" {
			end = time.Now()
		} else {
			end, err = time.Parse(time.DateTime, endTime)
			if err != nil {
				logrus.Fatalf("Failed to parse end time: %v", err)
			}
		}

		// Connect to database
		dbConn, err := db.Connect(&cfg.Database)
		if err != nil {
			logrus.Fatalf("Failed to connect to database: %v", err)
		}

		// Initialize message bus
		var messageBusClient messagebus.Client
		if cfg.ServiceBus.Enabled {
			messageBusClient, err = messagebus.NewClient(&cfg.ServiceBus)
			if err != nil {
				logrus.Fatalf("Failed to initialize message bus: %v", err)
			}
		}

		// Initialize search
		var esClient search.Client
		if cfg.Elasticsearch.Enabled {
			esClient, err = search.NewClient(&cfg.Elasticsearch)
			if err != nil {
				logrus.Fatalf("Failed to initialize Elasticsearch: %v", err)
			}
		}

		if messageBusClient == nil && esClient == nil {
			logrus.Fatal("No audit collaborator is enabled, nothing to republish to")
		}

		publisher := audit.NewPublisher(dbConn, messageBusClient, esClient, cfg.ServiceBus.AuditQueue)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		// Republish records
		count, err := publisher.Republish(ctx, start, end)
		if err != nil {
			logrus.Fatalf("Failed to republish mutation records: %v", err)
		}

		logrus.Infof("Republished %d mutation records", count)

		if messageBusClient != nil {
			if err := messageBusClient.Close(ctx); err != nil {
				logrus.Errorf("Failed to close message bus: %v", err)
			}
		}
	},
}

func init() {
	// Default to 24 hours ago
	defaultStart := time.Now().Add(-24 * time.Hour).Format(time.DateTime)

	republishAuditCmd.Flags().StringVarP(&startTime, "start", "s", defaultStart, "Start time for republishing (format: 2006-01-02 15:04:05)")
	republishAuditCmd.Flags().StringVarP(&endTime, "end", "e", "", "End time for republishing (format: 2006-01-02 15:04:05)")
}
