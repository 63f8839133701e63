package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agencyops/internal/catalog"
	"agencyops/internal/config"
	"agencyops/internal/db"
	"agencyops/internal/decision"
	"agencyops/internal/domain"
	"agencyops/internal/engine"
	"agencyops/internal/events"
	"agencyops/internal/logging"
	"agencyops/internal/migrate"
	"agencyops/internal/repo"
	"agencyops/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	eng := engine.New(conn, config.Default(), cat)
	eng.Logger = logging.Discard()
	eng.Now = func() time.Time { return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.Seed(ctx, "tester"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func TestSeedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.Seed(env.Ctx, "tester")
	if err != nil || n != 0 {
		t.Fatalf("reseed n=%d err=%v", n, err)
	}
	wfs, err := env.Engine.ListWorkflows(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(wfs) != len(env.Engine.Catalog.Workflows()) {
		t.Fatalf("expected %d workflows, got %d", len(env.Engine.Catalog.Workflows()), len(wfs))
	}
	want, _ := env.Engine.Catalog.Workflow("wf-spring-campaign")
	got, err := env.Engine.GetWorkflow(env.Ctx, "wf-spring-campaign")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Steps) != len(want.Steps) || got.CurrentStep != want.CurrentStep || got.Status != want.Status {
		t.Fatalf("stored workflow differs: %+v", got)
	}
	for i := range want.Steps {
		if got.Steps[i].ID != want.Steps[i].ID || got.Steps[i].Status != want.Steps[i].Status {
			t.Fatalf("step %d differs: %+v vs %+v", i, got.Steps[i], want.Steps[i])
		}
	}
	if err := workflow.Validate(got); err != nil {
		t.Fatalf("stored workflow invalid: %v", err)
	}
}

func TestApproveAdvancesAndArchivesDocket(t *testing.T) {
	env := newTestEnv(t)
	before, err := env.Engine.Docket(env.Ctx, "proj-harbor-spring")
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Approve(env.Ctx, "wf-spring-campaign", "concepts", "dana")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	wf := res.Workflow
	if wf.Steps[2].Status != domain.StepComplete || wf.Steps[3].Status != domain.StepCurrent || wf.CurrentStep != 4 {
		t.Fatalf("unexpected steps after approve: %+v", wf.Steps)
	}
	if len(res.Archived) != 1 || res.Archived[0] != "dk-concepts" {
		t.Fatalf("expected dk-concepts archived, got %v", res.Archived)
	}
	stored, err := env.Engine.GetWorkflow(env.Ctx, "wf-spring-campaign")
	if err != nil {
		t.Fatal(err)
	}
	if stored.CurrentStep != 4 || stored.Steps[3].StartedAt == nil || *stored.Steps[3].StartedAt != "2024-03-04T09:00:00Z" {
		t.Fatalf("transition not persisted: %+v", stored)
	}
	after, err := env.Engine.Docket(env.Ctx, "proj-harbor-spring")
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before)-1 {
		t.Fatalf("expected one item archived, before=%d after=%d", len(before), len(after))
	}
	item, err := env.Engine.DocketItem(env.Ctx, "dk-concepts")
	if err != nil || item.ArchivedAt == nil {
		t.Fatalf("archived item lookup: %+v %v", item, err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, 10, repo.EventFilters{Type: events.StepApproved})
	if err != nil || len(evts) != 1 || evts[0].EntityID != "concepts" || evts[0].ActorID != "dana" {
		t.Fatalf("expected approve event, got %+v %v", evts, err)
	}
}

func TestApproveToCompletion(t *testing.T) {
	env := newTestEnv(t)
	wf, err := env.Engine.GetWorkflow(env.Ctx, "wf-city-media")
	if err != nil {
		t.Fatal(err)
	}
	for wf.Status != domain.WorkflowCompleted {
		cur, err := workflow.CurrentStep(wf)
		if err != nil {
			t.Fatal(err)
		}
		res, err := env.Engine.Approve(env.Ctx, wf.ID, cur.ID, "sam")
		if err != nil {
			t.Fatalf("approve %s: %v", cur.ID, err)
		}
		wf = res.Workflow
	}
	if wf.CurrentStep != len(wf.Steps)+1 {
		t.Fatalf("pointer %d after completion", wf.CurrentStep)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, 10, repo.EventFilters{Type: events.WorkflowComplete, EntityID: wf.ID})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected completion event, got %+v %v", evts, err)
	}
	_, err = env.Engine.Advance(env.Ctx, wf.ID, "sam")
	if !errors.Is(err, domain.ErrInvalidStepState) {
		t.Fatalf("expected invalid step state, got %v", err)
	}
}

func TestRequestChangesKeepsStepCurrent(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RequestChanges(env.Ctx, "wf-spring-campaign", "concepts", "dana", "   ")
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	res, err := env.Engine.RequestChanges(env.Ctx, "wf-spring-campaign", "concepts", "dana", "make it bolder")
	if err != nil {
		t.Fatalf("request changes: %v", err)
	}
	if res.Note == nil || res.Note.Body != "make it bolder" {
		t.Fatalf("unexpected note %+v", res.Note)
	}
	stored, err := env.Engine.GetWorkflow(env.Ctx, "wf-spring-campaign")
	if err != nil {
		t.Fatal(err)
	}
	step := stored.Steps[2]
	if step.Status != domain.StepCurrent || stored.CurrentStep != 3 {
		t.Fatalf("step moved: %+v", step)
	}
	if len(step.Notes) != 1 || step.Notes[0].Kind != domain.NoteFeedback || step.Notes[0].Author != "dana" {
		t.Fatalf("note not stored: %+v", step.Notes)
	}
}

func TestDecisionOnNonCurrentStepLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	before, _ := env.Engine.GetWorkflow(env.Ctx, "wf-spring-campaign")
	for _, stepID := range []string{"brief", "production"} {
		if _, err := env.Engine.Approve(env.Ctx, "wf-spring-campaign", stepID, "dana"); !errors.Is(err, domain.ErrInvalidStepState) {
			t.Fatalf("approve %s: expected invalid step state, got %v", stepID, err)
		}
	}
	if _, err := env.Engine.Approve(env.Ctx, "wf-missing", "x", "dana"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	after, _ := env.Engine.GetWorkflow(env.Ctx, "wf-spring-campaign")
	if after.CurrentStep != before.CurrentStep || after.UpdatedAt != before.UpdatedAt {
		t.Fatalf("state changed on failure")
	}
}

func TestConsult(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Consult(env.Ctx, "wf-spring-campaign", "concepts", "dana", "brief-writer", "Why this angle?")
	if err != nil {
		t.Fatalf("consult: %v", err)
	}
	if res.Consultation == nil || res.Reply == "" {
		t.Fatalf("expected consultation and reply, got %+v", res)
	}
	_, err = env.Engine.Consult(env.Ctx, "wf-spring-campaign", "concepts", "dana", "publisher", "Ready?")
	if !errors.Is(err, domain.ErrInvalidStepState) || !decision.IsNotConsultable(err) {
		t.Fatalf("expected not consultable, got %v", err)
	}
	agents, err := env.Engine.ConsultableAgents(env.Ctx, "wf-spring-campaign", "concepts")
	if err != nil || len(agents) != 2 || agents[0].ID != "researcher" || agents[1].ID != "brief-writer" {
		t.Fatalf("unexpected consultable agents %+v %v", agents, err)
	}
	stored, _ := env.Engine.GetWorkflow(env.Ctx, "wf-spring-campaign")
	if stored.CurrentStep != 3 {
		t.Fatalf("consult changed workflow state")
	}
}

func TestDecideDispatch(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Decide(env.Ctx, "wf-city-media", "plan", "sam", decision.Decision{Action: "escalate"}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	res, err := env.Engine.Decide(env.Ctx, "wf-city-media", "plan", "sam", decision.Decision{Action: decision.ActionApprove})
	if err != nil || res.Workflow.CurrentStep != 3 {
		t.Fatalf("decide approve: %+v %v", res.Workflow, err)
	}
}

func TestStartAndSkip(t *testing.T) {
	env := newTestEnv(t)
	wf, err := env.Engine.Start(env.Ctx, "wf-portal-identity", "priya")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if wf.Status != domain.WorkflowInProgress || wf.Steps[0].Status != domain.StepCurrent {
		t.Fatalf("unexpected start state %+v", wf)
	}
	if _, err := env.Engine.Start(env.Ctx, "wf-portal-identity", "priya"); !errors.Is(err, domain.ErrInvalidStepState) {
		t.Fatalf("expected second start to fail, got %v", err)
	}
	wf, err = env.Engine.Skip(env.Ctx, "wf-portal-identity", "priya")
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if !wf.Steps[0].Skipped || wf.Steps[1].Status != domain.StepCurrent {
		t.Fatalf("unexpected skip state %+v", wf.Steps)
	}
	stored, _ := env.Engine.GetWorkflow(env.Ctx, "wf-portal-identity")
	if !stored.Steps[0].Skipped {
		t.Fatalf("skip flag not persisted")
	}
}

func TestSelectStep(t *testing.T) {
	env := newTestEnv(t)
	view, err := env.Engine.SelectStep(env.Ctx, "wf-spring-campaign", "")
	if err != nil || view.Step.ID != "concepts" || view.Panel != workflow.PanelInProgress || view.Position != 3 {
		t.Fatalf("current step view %+v %v", view, err)
	}
	view, err = env.Engine.SelectStep(env.Ctx, "wf-spring-campaign", "research")
	if err != nil || view.Panel != workflow.PanelCompletedSummary || view.Progress.Complete != 2 {
		t.Fatalf("research view %+v %v", view, err)
	}
	if _, err := env.Engine.SelectStep(env.Ctx, "wf-spring-campaign", "nope"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDocketRankingAndSummary(t *testing.T) {
	env := newTestEnv(t)
	items, err := env.Engine.Docket(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, it := range items {
		got = append(got, it.ID)
	}
	want := []string{"dk-invoice", "dk-access", "dk-budget", "dk-loyalty-copy", "dk-competitor", "dk-concepts", "dk-shoot"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank mismatch at %d: got %v want %v", i, got, want)
		}
	}
	top, err := env.Engine.TopRecommendation(env.Ctx, "")
	if err != nil || top.ID != "dk-invoice" {
		t.Fatalf("top %+v %v", top, err)
	}
	summary, err := env.Engine.Summary(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Urgent != 2 || summary.ByType[domain.DocketOperational] != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, err := env.Engine.TopRecommendation(env.Ctx, "proj-lumen-annual"); !errors.Is(err, domain.ErrNoDocketItems) {
		t.Fatalf("expected no docket items, got %v", err)
	}
}

func TestChat(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Chat(env.Ctx, "dana", ""); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	reply, err := env.Engine.Chat(env.Ctx, "dana", "Where should I start?")
	if err != nil || reply.Body == "" {
		t.Fatalf("chat: %+v %v", reply, err)
	}
}

func TestConcurrentApprovesAdvanceOnce(t *testing.T) {
	env := newTestEnv(t)
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.Approve(env.Ctx, "wf-loyalty-copy", "rewrite", "dana")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, domain.ErrInvalidStepState) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one approve to succeed, got %d", ok)
	}
	wf, _ := env.Engine.GetWorkflow(env.Ctx, "wf-loyalty-copy")
	if wf.Status != domain.WorkflowCompleted {
		t.Fatalf("expected completed, got %s", wf.Status)
	}
}
