package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/imobflow/messaging-engine/internal/config"
	"github.com/imobflow/messaging-engine/internal/db"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo tenants, templates and rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo data...")

		if err := seedTenants(sqlDB); err != nil {
			return err
		}
		if err := seedTemplates(sqlDB); err != nil {
			return err
		}
		if err := seedRules(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedTenants inserts deterministic demo tenants (idempotent).
func seedTenants(dbx *sqlx.DB) error {
	tenants := []model.Tenant{
		{
			Name:         "Imobiliária Horizonte",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(20),
		},
		{
			Name:         "Corretora Silva & Filhos",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			RateLimitRPS: intptr(50),
		},
		{
			Name:         "Lançamentos Beta",
			APIKey:       "33333333333333333333333333333333",
			Status:       "active",
			RateLimitRPS: intptr(5),
		},
		{
			Name:         "Conta Suspensa",
			APIKey:       "44444444444444444444444444444444",
			Status:       "suspended",
			RateLimitRPS: nil,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO tenants
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    status         = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at     = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for _, t := range tenants {
		if _, err := tx.Exec(q, t.Name, t.APIKey, t.Status, t.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert tenant %q: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tenants: %w", err)
	}
	return nil
}

// seedTemplates gives the first demo tenant a pair of approved templates.
func seedTemplates(dbx *sqlx.DB) error {
	const q = `
INSERT INTO templates
    (tenant_id, name, body, required_vars, status, usage_count, created_at, updated_at)
SELECT t.id, ?, ?, ?, 'approved', 0, NOW(), NOW()
FROM tenants t
WHERE t.api_key = '11111111111111111111111111111111'
ON DUPLICATE KEY UPDATE
    body          = VALUES(body),
    required_vars = VALUES(required_vars),
    updated_at    = VALUES(updated_at)
`
	templates := []struct {
		name, body, vars string
	}{
		{"boas_vindas", "Olá {{name}}! Obrigado pelo contato, em breve um corretor fala com você.", `["name"]`},
		{"agendar_visita", "Oi {{name}}, podemos agendar sua visita ao imóvel {{property}}? Responda com o melhor horário.", `["name","property"]`},
		{"fora_de_horario", "Recebemos sua mensagem! Nosso horário de atendimento é das 9h às 18h, retornaremos em breve.", `[]`},
	}
	for _, t := range templates {
		if _, err := dbx.Exec(q, t.name, t.body, t.vars); err != nil {
			return fmt.Errorf("insert template %q: %w", t.name, err)
		}
	}
	return nil
}

// seedRules wires a first-contact greeting and an out-of-hours away message.
func seedRules(dbx *sqlx.DB) error {
	const q = `
INSERT INTO auto_response_rules
    (tenant_id, trigger_type, keywords, response_body, template_name, priority, active, business_hours_only, created_at, updated_at)
SELECT t.id, ?, ?, ?, ?, ?, 1, ?, NOW(), NOW()
FROM tenants t
WHERE t.api_key = '11111111111111111111111111111111'
  AND NOT EXISTS (
      SELECT 1 FROM auto_response_rules r WHERE r.tenant_id = t.id AND r.trigger_type = ?
  )
`
	rules := []struct {
		trigger, keywords, body, template string
		priority                          int
		businessHoursOnly                 bool
	}{
		{"first_contact", "null", "", "boas_vindas", 20, false},
		{"business_hours", "null", "", "fora_de_horario", 15, false},
		{"keyword", `["preço","valor","quanto custa"]`, "Um corretor já vai te passar os valores!", "", 10, true},
	}
	for _, r := range rules {
		var template any
		if r.template != "" {
			template = r.template
		}
		if _, err := dbx.Exec(q, r.trigger, r.keywords, r.body, template, r.priority, r.businessHoursOnly, r.trigger); err != nil {
			return fmt.Errorf("insert rule %q: %w", r.trigger, err)
		}
	}
	return nil
}

func intptr(i int) *int { return &i }
