package roadmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/waymark-labs/waymark/internal/store"
)

// planDoc mirrors the JSON document the completion source is prompted to
// produce for roadmap and sub-roadmap plans.
type planDoc struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Steps       []planStep `json:"steps"`
}

type planStep struct {
	Step        int      `json:"step"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// resourceDoc mirrors the JSON document produced for resource
// recommendations. Each item groups URLs sharing one resource type.
type resourceDoc struct {
	LearningResources []resourceItem `json:"learning_resources"`
}

type resourceItem struct {
	URL          []string `json:"url"`
	ResourceType string   `json:"resource_type"`
}

// extractJSON cuts the outermost JSON object out of a completion, tolerating
// markdown fences and prose around it.
func extractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", errors.New("no JSON object in completion")
	}
	return text[start : end+1], nil
}

// parsePlan validates a plan completion and shapes it for the store. Steps
// are ordered by their declared number and renumbered 1..n.
func parsePlan(text string) (store.NewRoadmap, error) {
	doc, err := extractJSON(text)
	if err != nil {
		return store.NewRoadmap{}, err
	}
	var p planDoc
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return store.NewRoadmap{}, fmt.Errorf("decode plan: %w", err)
	}

	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return store.NewRoadmap{}, errors.New("plan has no title")
	}
	if len(p.Steps) == 0 {
		return store.NewRoadmap{}, errors.New("plan has no steps")
	}

	sort.SliceStable(p.Steps, func(i, j int) bool { return p.Steps[i].Step < p.Steps[j].Step })

	plan := store.NewRoadmap{Title: p.Title}
	for i, ps := range p.Steps {
		title := strings.TrimSpace(ps.Title)
		if title == "" {
			return store.NewRoadmap{}, fmt.Errorf("plan step %d has no title", i+1)
		}
		var tags []string
		for _, tag := range ps.Tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		plan.Steps = append(plan.Steps, store.NewStep{
			Number:      i + 1,
			Title:       title,
			Description: strings.TrimSpace(ps.Description),
			Tags:        tags,
		})
	}
	return plan, nil
}

// parseResources validates a resource completion and flattens it into store
// rows. Unknown resource types are kept but blanked; entries without a URL
// are dropped.
func parseResources(text string) ([]store.NewResource, error) {
	doc, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var r resourceDoc
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode resources: %w", err)
	}

	var recs []store.NewResource
	for _, item := range r.LearningResources {
		for _, u := range item.URL {
			if u = strings.TrimSpace(u); u == "" {
				continue
			}
			recs = append(recs, store.NewResource{URL: u, Type: normalizeResourceType(item.ResourceType)})
		}
	}
	if len(recs) == 0 {
		return nil, errors.New("no usable learning resources in completion")
	}
	return recs, nil
}

func normalizeResourceType(t string) string {
	switch t = strings.TrimSpace(t); t {
	case store.ResourceOfficialDocs, store.ResourceBook, store.ResourceVideoCourse, store.ResourcePaper:
		return t
	}
	return ""
}
