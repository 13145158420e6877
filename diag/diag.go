package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/core"
)

const defaultCount = 25

// NewServeMux returns an *http.ServeMux that serves a read-only JSON API over the backend at /api.
//
//	GET /api/?count=25&offset=0&status=RUNNING&name=checkout   list instances, newest first
//	GET /api/{instanceID}                                     instance with steps, events and messages
func NewServeMux(b backend.Backend) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		// Only support GET requests
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		relativeURL := strings.TrimPrefix(r.URL.Path, "/api/")

		// /api/
		if relativeURL == "" {
			listInstances(w, r, b)
			return
		}

		segments := strings.Split(relativeURL, "/")

		// /api/{instanceID}
		if len(segments) == 1 {
			getInstance(w, r, b, segments[0])
			return
		}

		w.WriteHeader(http.StatusNotFound)
	})

	return mux
}

func listInstances(w http.ResponseWriter, r *http.Request, b backend.Backend) {
	query := r.URL.Query()

	options := backend.ListOptions{
		Name:  query.Get("name"),
		Limit: defaultCount,
	}

	for _, param := range []struct {
		name string
		dst  *int
	}{{"count", &options.Limit}, {"offset", &options.Offset}} {
		if s := query.Get(param.name); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 0 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			*param.dst = v
		}
	}

	for _, s := range query["status"] {
		status := core.WorkflowStatus(strings.ToUpper(s))
		if !status.Valid() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		options.Statuses = append(options.Statuses, status)
	}

	instances, err := b.ListWorkflowInstances(r.Context(), options)
	if err != nil {
		b.Logger().Error("listing workflow instances", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	refs := make([]*WorkflowInstanceRef, 0, len(instances))
	for _, instance := range instances {
		refs = append(refs, newWorkflowInstanceRef(instance))
	}

	writeJSON(w, refs)
}

func getInstance(w http.ResponseWriter, r *http.Request, b backend.Backend, instanceID string) {
	info, err := GetWorkflowInstanceInfo(r.Context(), b, instanceID)
	if err != nil {
		if errors.Is(err, backend.ErrInstanceNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		b.Logger().Error("getting workflow instance", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, info)
}

// GetWorkflowInstanceInfo loads the instance with its recorded steps, events and messages.
func GetWorkflowInstanceInfo(ctx context.Context, b backend.Backend, instanceID string) (*WorkflowInstanceInfo, error) {
	instance, err := b.GetWorkflowInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	steps, err := b.GetStepResults(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	events, err := b.ListEvents(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	messages, err := b.ListMessages(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	info := &WorkflowInstanceInfo{
		WorkflowInstanceRef: newWorkflowInstanceRef(instance),
		Output:              rawPayload(instance.Output),
		Error:               instance.Error,
		Steps:               make([]*Step, 0, len(steps)),
		Events:              make([]*Event, 0, len(events)),
		Messages:            make([]*Message, 0, len(messages)),
	}

	for _, input := range instance.Inputs {
		info.Inputs = append(info.Inputs, rawPayload(input))
	}

	for _, s := range steps {
		info.Steps = append(info.Steps, &Step{
			Number:     s.StepNumber,
			Name:       s.StepName,
			Output:     rawPayload(s.Output),
			Error:      s.Error,
			ExecutedAt: s.ExecutedAt,
		})
	}

	for _, e := range events {
		info.Events = append(info.Events, &Event{Key: e.Key, Value: rawPayload(e.Value), UpdatedAt: e.UpdatedAt})
	}

	for _, m := range messages {
		info.Messages = append(info.Messages, &Message{
			ID:         m.ID,
			Topic:      m.Topic,
			Payload:    rawPayload(m.Payload),
			CreatedAt:  m.CreatedAt,
			ConsumedAt: m.ConsumedAt,
		})
	}

	return info, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
}
