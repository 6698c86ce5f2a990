package main

import (
	"context"
	"log"
	"net/http"

	"github.com/recordflow/recordflow/api"
	"github.com/recordflow/recordflow/backend/sqlite"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/numbering"
	"github.com/recordflow/recordflow/record"
	"github.com/recordflow/recordflow/template"
)

// Serves the full API on :8080 backed by an in-memory store, pre-seeded
// with one template. Try:
//
//	curl -H "X-Tenant-ID: demo" -H "X-Actor-ID: you" localhost:8080/api/templates
func main() {
	store := sqlite.NewInMemoryStore()
	defer store.Close()

	gen := numbering.NewGenerator(store)
	engine := template.NewEngine(store)
	manager := record.NewManager(store, gen, nil)
	defer manager.Close()

	id := core.Identity{TenantID: "demo", ActorID: "seed"}

	tmpl, err := engine.Create(context.Background(), id, template.Def{
		Name:     "Incident report",
		Category: "safety",
		States: []*core.State{
			{
				ID: "open", Name: "Open", Initial: true,
				Fields: []*core.Field{
					{Label: "Summary", Type: core.FieldTypeText, Required: true, Visible: true, CardVisible: true},
				},
				Transitions: []*core.Transition{{TargetStateID: "closed", RequiresComment: true}},
			},
			{ID: "closed", Name: "Closed", Final: true},
		},
		Advanced: core.AdvancedConfig{
			Numbering: core.CounterConfig{Kind: "incident", Prefix: "INC", Format: "{prefix}-{year}-{number}", ResetYearly: true},
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("seeded template %s (%s)", tmpl.Code, tmpl.ID)
	log.Println("listening on :8080")

	mux := api.NewServeMux(engine, manager, gen)
	if err := http.ListenAndServe(":8080", mux); err != nil {
		log.Fatal(err)
	}
}
