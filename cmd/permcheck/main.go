// Command permcheck loads the permission tables from the backend and answers
// "can this role do that" questions from stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"agencycrm/internal/config"
	"agencycrm/internal/gateway"
	"agencycrm/internal/models"
	"agencycrm/internal/notify"
	"agencycrm/internal/permissions"
	"agencycrm/internal/utils/logger"
)

func main() {
	var log = logger.New("permcheck")
	log.Info("🔑 Starting permission check CLI")

	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("❌ Failed to load configuration", err)
		os.Exit(1)
	}

	client := gateway.NewClient(cfg.Backend)
	engine := permissions.NewEngine(gateway.NewPermissions(client), notify.NewLog(log), permissions.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.HTTPTimeout)
	err = engine.Load(ctx)
	cancel()
	if err != nil {
		log.Error("❌ Failed to load permissions", err)
		os.Exit(1)
	}
	log.Success("✅ Loaded %d roles", len(engine.Roles()))

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("Enter '<role> <resource:action>', '<role> <column>', or 'q' to quit: ")
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "q" || (err != nil && line == "") {
			log.Info("👋 Exiting permission check CLI")
			break
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			log.Warn("⚠️ Expected two words, got %q", line)
			continue
		}
		role, query := fields[0], fields[1]

		if !strings.Contains(query, ":") {
			column := models.Column(query)
			if !models.IsValidColumn(column) {
				log.Warn("⚠️ Unknown column %q", query)
				continue
			}
			report(log, fmt.Sprintf("%s edit %s", role, column), engine.CanEditColumn(role, column))
			continue
		}

		scopes, err := models.ParseScope(query)
		if err != nil {
			log.Warn("⚠️ %v", err)
			continue
		}
		for _, scope := range scopes {
			report(log, fmt.Sprintf("%s %s", role, scope), engine.CanPerformAction(role, scope.Resource, scope.Action))
		}
	}
}

func report(log *logger.Logger, question string, allowed bool) {
	if allowed {
		log.Success("✅ %s: allowed", question)
	} else {
		log.Warn("⛔ %s: denied", question)
	}
}
