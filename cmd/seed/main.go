package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"mailpacer/internal/config"
	"mailpacer/internal/logger"
	"mailpacer/internal/queue"
	"mailpacer/internal/repository"
	"mailpacer/internal/service"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
)

// Command-line flags
var (
	recipientCount = flag.Int("recipients", 10, "Number of demo recipients")
	userID         = flag.String("user", "demo-user", "Owner of the demo campaign")
	startIn        = flag.Duration("start-in", 0, "Delay before the first send")
	delaySeconds   = flag.Int("delay", 5, "Seconds between consecutive sends")
	hourlyLimit    = flag.Int("hourly-limit", service.DefaultHourlyLimit, "Campaign hourly limit")
	domain         = flag.String("domain", "example.com", "Recipient address domain")
)

func main() {
	flag.Parse()

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	printInfo("=== Mailpacer Demo Campaign ===\n")

	cfg, err := config.Load()
	if err != nil {
		fail("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		fail("Failed to open database connection: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		fail("Failed to ping database: %v", err)
	}
	printSuccess("✓ Connected to database")

	rdb, err := queue.Connect(ctx, cfg.Redis)
	if err != nil {
		fail("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()
	printSuccess("✓ Connected to Redis\n")

	dispatch := queue.New(rdb, queue.Options{
		Name:          cfg.Queue.Name,
		Lease:         cfg.Queue.Lease,
		KeepCompleted: cfg.Queue.KeepCompleted,
		KeepFailed:    cfg.Queue.KeepFailed,
	})

	campaigns := service.NewCampaignService(
		repository.NewCampaignRepository(db),
		repository.NewEmailJobRepository(db),
		dispatch,
		cfg.Worker.SenderID,
		logger.Component(logger.New(cfg.LogLevel), "seed"),
	)

	req := demoRequest(time.Now().Add(*startIn), *recipientCount, *delaySeconds, *hourlyLimit, *domain)
	result, err := campaigns.CreateCampaign(ctx, *userID, req)
	if err != nil {
		fail("Failed to create demo campaign: %v", err)
	}

	printInfo("=== Seeding Summary ===")
	printSuccess(fmt.Sprintf("✓ Campaign %d created for %s", result.CampaignID, *userID))
	printSuccess(fmt.Sprintf("✓ Jobs scheduled: %d", result.JobCount))
	printInfo(fmt.Sprintf("\nList them with: curl -H 'X-User-ID: %s' localhost:%s/api/emails/scheduled", *userID, cfg.Server.Port))
}

// demoRequest builds a campaign addressed to demo+NNN@domain
func demoRequest(start time.Time, count, delay, limit int, domain string) *service.CreateCampaignRequest {
	recipients := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		recipients = append(recipients, fmt.Sprintf("demo+%03d@%s", i, domain))
	}

	return &service.CreateCampaignRequest{
		Subject:                   "Welcome to Mailpacer",
		Body:                      "<p>This is a paced demo send.</p>",
		RecipientEmails:           recipients,
		StartTime:                 &start,
		DelayBetweenEmailsSeconds: &delay,
		HourlyLimit:               &limit,
	}
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
