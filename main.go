package main

import (
	"fmt"
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/linesmerrill/marketplace-chat-api/api/handlers"
	"github.com/linesmerrill/marketplace-chat-api/config"
)

func main() {
	a := handlers.App{}
	a.Config = *config.New()

	if err := a.Initialize(); err != nil { //initialize database, transports and router
		log.Fatal(err)
	}
	defer a.Close()

	zap.S().Infow("marketplace-chat-api is up and running",
		"port", a.Config.Port,
		"url", a.Config.BaseURL,
		"env", a.Config.Env,
	)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%v", a.Config.Port), a.Router))
}
