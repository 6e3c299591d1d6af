package commands

import (
	"database/sql"
	"time"

	"sbirharvest/lib/awardstore"
	awardsdb "sbirharvest/lib/awardstore/db"
	"sbirharvest/lib/configutil"
	"sbirharvest/lib/scrapers/sbir"
	"sbirharvest/lib/serviceutil"
	"sbirharvest/lib/sqliteutil"
	"sbirharvest/services/harvester"
)

type ApiConfig struct {
	BaseUrl            string `json:"base_url"`
	UserAgent          string `json:"user_agent"`
	TimeoutSeconds     int    `json:"timeout_seconds"`
	MaxAttempts        int    `json:"max_attempts"`
	RetryDelaySeconds  int    `json:"retry_delay_seconds"`
	RequestDelayMillis int    `json:"request_delay_ms"`
}

type HarvestConfig struct {
	BatchSize          int   `json:"batch_size"`
	EstimatedTotal     int64 `json:"estimated_total"`
	ProgressInterval   int   `json:"progress_interval"`
	CheckpointInterval int   `json:"checkpoint_interval"`
}

type UpdateConfig struct {
	CheckDays    int `json:"check_days"`
	LookbackDays int `json:"lookback_days"`
	ScanLimit    int `json:"scan_limit"`
}

type ExportConfig struct {
	Csv     string `json:"csv"`
	Summary string `json:"summary"`
}

type Config struct {
	Api      ApiConfig         `json:"api"`
	Database sqliteutil.Config `json:"database"`
	Harvest  HarvestConfig     `json:"harvest"`
	Update   UpdateConfig      `json:"update"`
	Export   ExportConfig      `json:"export"`
}

func loadConfig() Config {
	cfg, err := configutil.ReadConfigOrDefaults[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if cfg.Api.BaseUrl == "" {
		cfg.Api.BaseUrl = "https://api.www.sbir.gov/public/api/awards"
	}
	if cfg.Database.File == "" && cfg.Database.Url == "" {
		cfg.Database.File = "data/sbir_awards.db"
	}
	if cfg.Export.Csv == "" {
		cfg.Export.Csv = "data/sbir_awards.csv"
	}
	if cfg.Export.Summary == "" {
		cfg.Export.Summary = "data/export_summary.json"
	}
	return cfg
}

func openStore(cfg Config) (awardstore.Store, *sql.DB) {
	db, err := sqliteutil.OpenDB(awardsdb.Schema, cfg.Database)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}
	return awardstore.NewStore(db), db
}

func openService(cfg Config) (harvester.Service, awardstore.Store, *sql.DB) {
	store, db := openStore(cfg)

	client := sbir.NewClient(sbir.ClientOptions{
		BaseUrl:      cfg.Api.BaseUrl,
		UserAgent:    cfg.Api.UserAgent,
		Timeout:      time.Duration(cfg.Api.TimeoutSeconds) * time.Second,
		MaxAttempts:  cfg.Api.MaxAttempts,
		RetryDelay:   time.Duration(cfg.Api.RetryDelaySeconds) * time.Second,
		RequestDelay: time.Duration(cfg.Api.RequestDelayMillis) * time.Millisecond,
	})

	service := harvester.NewService(store, client, harvester.Options{
		BatchSize:          cfg.Harvest.BatchSize,
		EstimatedTotal:     cfg.Harvest.EstimatedTotal,
		ProgressInterval:   cfg.Harvest.ProgressInterval,
		CheckpointInterval: cfg.Harvest.CheckpointInterval,
		UpdateCheckDays:    cfg.Update.CheckDays,
		UpdateLookbackDays: cfg.Update.LookbackDays,
		UpdateScanLimit:    cfg.Update.ScanLimit,
		CsvExportPath:      cfg.Export.Csv,
		SummaryPath:        cfg.Export.Summary,
	})
	return service, store, db
}
