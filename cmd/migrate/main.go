package main

import (
	"fmt"
	"log"
	"os"

	"deskflow/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			getenvDefault("DB_HOST", "localhost"),
			getenvDefault("DB_USER", "postgres"),
			getenvDefault("DB_PASSWORD", "password"),
			getenvDefault("DB_NAME", "deskflow"),
			getenvDefault("DB_PORT", "5432"),
			getenvDefault("DB_SSLMODE", "disable"),
		)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.Ticket{},
		&models.TicketComment{},
		&models.TicketFollower{},
		&models.TicketStatusChange{},
		&models.TicketRating{},
		&models.SLAPolicy{},
		&models.EscalationRule{},
		&models.EscalationExecution{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	log.Println("Creating additional indexes...")

	// scan population query
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_status_priority ON tickets(status, priority)")
	// dedup lookups and per-ticket/per-rule history
	db.Exec("CREATE INDEX IF NOT EXISTS idx_escalation_executions_dedup ON escalation_executions(dedup_key, outcome)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_escalation_executions_ticket_created ON escalation_executions(ticket_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_escalation_executions_rule_created ON escalation_executions(rule_id, created_at)")
	// status epoch lookup in snapshots
	db.Exec("CREATE INDEX IF NOT EXISTS idx_ticket_status_changes_ticket_created ON ticket_status_changes(ticket_id, created_at)")

	log.Println("Indexes created successfully!")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
