package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/kbsync/internal/buildinfo"
	"github.com/dmitrijs2005/kbsync/internal/server"
	"github.com/dmitrijs2005/kbsync/internal/server/config"
	_ "go.uber.org/automaxprocs"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
