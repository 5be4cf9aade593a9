package main

import (
	"log"
	"net/http"

	"github.com/joho/godotenv"

	"cashmemo/m/internal/api"
	"cashmemo/m/internal/config"
	"cashmemo/m/internal/database"
	"cashmemo/m/internal/migrations"
	"cashmemo/m/internal/seed"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	db := database.Connect(cfg.DatabaseDSN)
	defer db.Close()

	migrations.Run(db)
	seed.Bootstrap(db, cfg.AdminEmail, cfg.AdminPassword)

	handler := api.New(db, cfg)

	log.Printf("inventory POS server starting on :%s", cfg.HTTPPort)
	if err := http.ListenAndServe(":"+cfg.HTTPPort, handler.Router()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
