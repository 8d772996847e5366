package main

import (
	"github.com/corray333/backend-labs/orderflow/internal/app"
	"github.com/corray333/backend-labs/orderflow/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewLedgerApp().Run()
}
