package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"

	"github.com/datawire/cibuild/pkg/expr"
)

// An Event is the run context a workflow is triggered with.
type Event struct {
	// Kind is one of EventPush, EventPullRequest, or EventManual.
	Kind string
	// Ref is the full ref the run is for, such as "refs/heads/main" or
	// "refs/tags/v1.2.3".
	Ref string
}

const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
	EventManual      = "manual"
)

// A Trigger restricts which events run the workflow.  It may be written in
// YAML as a single event name, a list of event names, or a mapping with
// per-event filters.
type Trigger struct {
	Push        *PushTrigger        `json:"push,omitempty"`
	PullRequest *PullRequestTrigger `json:"pull_request,omitempty"`
}

type PushTrigger struct {
	// Branches and Tags are path.Match patterns against the ref name.
	// Both empty: any push.  Only one set: only refs of that type.
	Branches []string `json:"branches,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type PullRequestTrigger struct {
	Branches []string `json:"branches,omitempty"`
}

func (tr *Trigger) UnmarshalJSON(data []byte) error {
	switch {
	case len(data) > 0 && data[0] == '"':
		var kind string
		if err := json.Unmarshal(data, &kind); err != nil {
			return err
		}
		return tr.enable(kind)
	case len(data) > 0 && data[0] == '[':
		var kinds []string
		if err := json.Unmarshal(data, &kinds); err != nil {
			return err
		}
		for _, kind := range kinds {
			if err := tr.enable(kind); err != nil {
				return err
			}
		}
		return nil
	default:
		type trigger Trigger // avoid UnmarshalJSON recursion
		var obj trigger
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&obj); err != nil {
			return err
		}
		*tr = Trigger(obj)
		return nil
	}
}

func (tr *Trigger) enable(kind string) error {
	switch kind {
	case EventPush:
		tr.Push = &PushTrigger{}
	case EventPullRequest:
		tr.PullRequest = &PullRequestTrigger{}
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}
	return nil
}

// Triggers reports whether the workflow runs for the given event.  A missing
// `on:` block means any event runs it, and manual runs bypass trigger
// filtering entirely.
func (wf *Workflow) Triggers(ev Event) bool {
	if wf.On == nil || ev.Kind == EventManual {
		return true
	}
	switch ev.Kind {
	case EventPush:
		return wf.On.Push.matches(ev.Ref)
	case EventPullRequest:
		return wf.On.PullRequest.matches(ev.Ref)
	default:
		return false
	}
}

func (tr *PushTrigger) matches(ref string) bool {
	if tr == nil {
		return false
	}
	if len(tr.Branches) == 0 && len(tr.Tags) == 0 {
		return true
	}
	switch expr.RefType(ref) {
	case "branch":
		return matchAny(tr.Branches, expr.RefName(ref))
	case "tag":
		return matchAny(tr.Tags, expr.RefName(ref))
	default:
		return false
	}
}

func (tr *PullRequestTrigger) matches(ref string) bool {
	if tr == nil {
		return false
	}
	if len(tr.Branches) == 0 {
		return true
	}
	return matchAny(tr.Branches, expr.RefName(ref))
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
