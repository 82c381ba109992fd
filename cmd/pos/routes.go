package main

import (
	"net/http"

	"github.com/joao-fontenele/tablepos/internal/catalog"
	"github.com/joao-fontenele/tablepos/internal/orders"
	"github.com/joao-fontenele/tablepos/internal/realtime"
	"github.com/joao-fontenele/tablepos/internal/telemetry"
)

// apiRoutes builds the staff-facing mux. Every route records its pattern as
// http.route on the server span.
func apiRoutes(ordersHandler *orders.Handler, catalogHandler *catalog.Handler, wsHandler *realtime.Handler) *http.ServeMux {
	api := http.NewServeMux()
	ordersHandler.RegisterRoutes(api, telemetry.WithHTTPRoute)

	api.HandleFunc("GET /menu", telemetry.WithHTTPRoute(catalogHandler.HandleListMenu))
	api.HandleFunc("GET /tax-rates", telemetry.WithHTTPRoute(catalogHandler.HandleListTaxRates))
	api.HandleFunc("GET /ws", telemetry.WithHTTPRoute(wsHandler.HandleWebSocket))
	return api
}
