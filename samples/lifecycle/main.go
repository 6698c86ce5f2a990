package main

import (
	"context"
	"fmt"
	"log"

	"github.com/recordflow/recordflow/backend/sqlite"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/numbering"
	"github.com/recordflow/recordflow/record"
	"github.com/recordflow/recordflow/template"
)

// Walks one record through a two-state flow and prints the audit trail.
func main() {
	ctx := context.Background()

	store := sqlite.NewInMemoryStore()
	defer store.Close()

	gen := numbering.NewGenerator(store)
	engine := template.NewEngine(store)
	manager := record.NewManager(store, gen, nil)
	defer manager.Close()

	id := core.Identity{TenantID: "demo", ActorID: "alice"}

	tmpl, err := engine.Create(ctx, id, template.Def{
		Name: "Work order",
		States: []*core.State{
			{
				ID: "todo", Name: "To do", Initial: true,
				Fields: []*core.Field{
					{ID: "task", Label: "Task", Type: core.FieldTypeText, Required: true, Visible: true},
				},
				Transitions: []*core.Transition{{TargetStateID: "done"}},
			},
			{ID: "done", Name: "Done", Final: true},
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	rec, err := manager.Create(ctx, id, record.CreateInput{
		TemplateID:  tmpl.ID,
		FieldValues: map[string]any{"task": "Replace bearing on pump 4"},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("created %s in %q\n", rec.Code, rec.CurrentState.Name)

	rec, err = manager.ChangeState(ctx, id, rec.ID, record.ChangeInput{TargetStateID: "done"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("moved to %q, completed at %s\n", rec.CurrentState.Name, rec.CompletedAt)

	for _, entry := range rec.ActivityLog {
		fmt.Printf("  %s  %-12s %s\n", entry.Timestamp.Format("15:04:05"), entry.Type, entry.Description)
	}
}
