// Package catalog is the read-only entity store: clients, projects, agents,
// workflows, calendar events and docket items loaded from a YAML dataset.
//
// Lookups return copies and report absence with a bool; a miss is a normal
// displayable state, not an error.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"agencyops/internal/domain"
	"agencyops/internal/workflow"
)

//go:embed dataset.yml
var defaultDataset []byte

var validate = validator.New(validator.WithRequiredStructEnabled())

// Dataset is the on-disk shape of the catalog.
type Dataset struct {
	Agency    string                 `yaml:"agency" validate:"required"`
	Clients   []domain.Client        `yaml:"clients" validate:"dive"`
	Agents    []domain.Agent         `yaml:"agents" validate:"dive"`
	Projects  []domain.Project       `yaml:"projects" validate:"dive"`
	Workflows []domain.Workflow      `yaml:"workflows" validate:"dive"`
	Docket    []domain.DocketItem    `yaml:"docket" validate:"dive"`
	Calendar  []domain.CalendarEvent `yaml:"calendar" validate:"dive"`
}

type Catalog struct {
	agency    string
	clients   []domain.Client
	agents    []domain.Agent
	projects  []domain.Project
	workflows []domain.Workflow
	docket    []domain.DocketItem
	calendar  []domain.CalendarEvent

	clientIdx   map[string]int
	agentIdx    map[string]int
	projectIdx  map[string]int
	workflowIdx map[string]int
	docketIdx   map[string]int
}

// Default returns the catalog built from the embedded dataset.
func Default() (*Catalog, error) {
	return Parse(defaultDataset)
}

// LoadFile reads a dataset from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Load returns the dataset at path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

func Parse(data []byte) (*Catalog, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	return New(ds)
}

// New validates ds and indexes it.
func New(ds Dataset) (*Catalog, error) {
	if err := validate.Struct(ds); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s failed on %s", domain.ErrValidationFailed, verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}
	c := &Catalog{
		agency:    ds.Agency,
		clients:   ds.Clients,
		agents:    ds.Agents,
		projects:  ds.Projects,
		workflows: ds.Workflows,
		docket:    ds.Docket,
		calendar:  ds.Calendar,
	}
	var err error
	if c.clientIdx, err = index("client", c.clients, func(v domain.Client) string { return v.ID }); err != nil {
		return nil, err
	}
	if c.agentIdx, err = index("agent", c.agents, func(v domain.Agent) string { return v.ID }); err != nil {
		return nil, err
	}
	if c.projectIdx, err = index("project", c.projects, func(v domain.Project) string { return v.ID }); err != nil {
		return nil, err
	}
	if c.workflowIdx, err = index("workflow", c.workflows, func(v domain.Workflow) string { return v.ID }); err != nil {
		return nil, err
	}
	if c.docketIdx, err = index("docket item", c.docket, func(v domain.DocketItem) string { return v.ID }); err != nil {
		return nil, err
	}
	if err := c.checkReferences(); err != nil {
		return nil, err
	}
	return c, nil
}

func index[T any](kind string, items []T, id func(T) string) (map[string]int, error) {
	idx := make(map[string]int, len(items))
	for i, it := range items {
		key := id(it)
		if _, dup := idx[key]; dup {
			return nil, fmt.Errorf("%w: duplicate %s id %s", domain.ErrValidationFailed, kind, key)
		}
		idx[key] = i
	}
	return idx, nil
}

func (c *Catalog) checkReferences() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrValidationFailed, fmt.Sprintf(format, args...))
	}
	for _, p := range c.projects {
		if _, ok := c.clientIdx[p.ClientID]; !ok {
			return bad("project %s references unknown client %s", p.ID, p.ClientID)
		}
	}
	for _, wf := range c.workflows {
		if _, ok := c.projectIdx[wf.ProjectID]; !ok {
			return bad("workflow %s references unknown project %s", wf.ID, wf.ProjectID)
		}
		if err := workflow.Validate(wf); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
		}
		for _, s := range wf.Steps {
			if len(s.Agents) == 0 && !s.DecisionPoint() {
				return bad("step %s in workflow %s has neither agents nor assignee", s.ID, wf.ID)
			}
			for _, a := range s.Agents {
				if _, ok := c.agentIdx[a]; !ok {
					return bad("step %s in workflow %s references unknown agent %s", s.ID, wf.ID, a)
				}
			}
		}
	}
	for _, it := range c.docket {
		if _, ok := c.projectIdx[it.ProjectID]; !ok {
			return bad("docket item %s references unknown project %s", it.ID, it.ProjectID)
		}
		if it.WorkflowID != "" {
			i, ok := c.workflowIdx[it.WorkflowID]
			if !ok {
				return bad("docket item %s references unknown workflow %s", it.ID, it.WorkflowID)
			}
			if it.StepID != "" {
				if _, err := workflow.SelectStep(c.workflows[i], it.StepID); err != nil {
					return bad("docket item %s references unknown step %s", it.ID, it.StepID)
				}
			}
		} else if it.StepID != "" {
			return bad("docket item %s names a step without a workflow", it.ID)
		}
		for _, a := range it.Agents {
			if _, ok := c.agentIdx[a]; !ok {
				return bad("docket item %s references unknown agent %s", it.ID, a)
			}
		}
	}
	for _, ev := range c.calendar {
		if ev.ProjectID == "" {
			continue
		}
		if _, ok := c.projectIdx[ev.ProjectID]; !ok {
			return bad("calendar event %s references unknown project %s", ev.ID, ev.ProjectID)
		}
	}
	return nil
}

func (c *Catalog) Agency() string {
	return c.agency
}

func (c *Catalog) Client(id string) (domain.Client, bool) {
	i, ok := c.clientIdx[id]
	if !ok {
		return domain.Client{}, false
	}
	return c.clients[i], true
}

func (c *Catalog) Clients() []domain.Client {
	return slices.Clone(c.clients)
}

func (c *Catalog) Project(id string) (domain.Project, bool) {
	i, ok := c.projectIdx[id]
	if !ok {
		return domain.Project{}, false
	}
	return cloneProject(c.projects[i]), true
}

func (c *Catalog) Projects() []domain.Project {
	out := make([]domain.Project, 0, len(c.projects))
	for _, p := range c.projects {
		out = append(out, cloneProject(p))
	}
	return out
}

// ProjectsByClient returns the client's projects in dataset order. An unknown
// client yields an empty list.
func (c *Catalog) ProjectsByClient(clientID string) []domain.Project {
	var out []domain.Project
	for _, p := range c.projects {
		if p.ClientID == clientID {
			out = append(out, cloneProject(p))
		}
	}
	return out
}

func (c *Catalog) Agent(id string) (domain.Agent, bool) {
	i, ok := c.agentIdx[id]
	if !ok {
		return domain.Agent{}, false
	}
	return c.agents[i], true
}

func (c *Catalog) Agents() []domain.Agent {
	return slices.Clone(c.agents)
}

// AgentsFor resolves agent ids, skipping unknown ones.
func (c *Catalog) AgentsFor(ids []string) []domain.Agent {
	out := make([]domain.Agent, 0, len(ids))
	for _, id := range ids {
		if a, ok := c.Agent(id); ok {
			out = append(out, a)
		}
	}
	return out
}

func (c *Catalog) Workflow(id string) (domain.Workflow, bool) {
	i, ok := c.workflowIdx[id]
	if !ok {
		return domain.Workflow{}, false
	}
	return workflow.Clone(c.workflows[i]), true
}

func (c *Catalog) Workflows() []domain.Workflow {
	out := make([]domain.Workflow, 0, len(c.workflows))
	for _, wf := range c.workflows {
		out = append(out, workflow.Clone(wf))
	}
	return out
}

func (c *Catalog) WorkflowsByProject(projectID string) []domain.Workflow {
	var out []domain.Workflow
	for _, wf := range c.workflows {
		if wf.ProjectID == projectID {
			out = append(out, workflow.Clone(wf))
		}
	}
	return out
}

func (c *Catalog) DocketItem(id string) (domain.DocketItem, bool) {
	i, ok := c.docketIdx[id]
	if !ok {
		return domain.DocketItem{}, false
	}
	return cloneDocketItem(c.docket[i]), true
}

func (c *Catalog) DocketItems() []domain.DocketItem {
	out := make([]domain.DocketItem, 0, len(c.docket))
	for _, it := range c.docket {
		out = append(out, cloneDocketItem(it))
	}
	return out
}

func (c *Catalog) CalendarEvents() []domain.CalendarEvent {
	return slices.Clone(c.calendar)
}

func (c *Catalog) CalendarEventsByProject(projectID string) []domain.CalendarEvent {
	var out []domain.CalendarEvent
	for _, ev := range c.calendar {
		if ev.ProjectID == projectID {
			out = append(out, ev)
		}
	}
	return out
}

func cloneProject(p domain.Project) domain.Project {
	if p.DaysUntilLaunch != nil {
		d := *p.DaysUntilLaunch
		p.DaysUntilLaunch = &d
	}
	return p
}

func cloneDocketItem(it domain.DocketItem) domain.DocketItem {
	it.Agents = slices.Clone(it.Agents)
	if it.ArchivedAt != nil {
		ts := *it.ArchivedAt
		it.ArchivedAt = &ts
	}
	return it
}
