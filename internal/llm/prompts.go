package llm

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048
)

const defaultRoadmapSystem = `You are a career mentor who designs practical learning roadmaps.
Respond with a single JSON object of this exact shape:
{"title": string, "description": string, "steps": [{"step": number, "title": string, "description": string, "tags": [string]}]}
Order the steps from fundamentals to advanced topics, number them starting at 1, and keep each description to two or three sentences.
Output only the JSON object, without markdown fences or commentary.`

const defaultSubroadmapSystem = `You are a career mentor who breaks a single learning step into a focused sub-roadmap.
Respond with a single JSON object of this exact shape:
{"title": string, "description": string, "steps": [{"step": number, "title": string, "description": string, "tags": [string]}]}
The sub-roadmap must cover only the given step in more depth, numbered from 1.
Output only the JSON object, without markdown fences or commentary.`

const defaultResourcesSystem = `You recommend learning resources for one step of a learning roadmap.
Respond with a single JSON object of this exact shape:
{"learning_resources": [{"url": [string], "resource_type": "official_documentation" | "book" | "online_video_course" | "paper"}]}
Prefer official documentation and well-known material. Output only the JSON object, without markdown fences or commentary.`

const defaultGuideSystem = `You are a senior engineer writing a practical study guide for one step of a learning roadmap.
Write the guide in markdown: start with a short overview, then concrete subtopics in learning order, each with what to practice.
Write prose for a motivated beginner. Do not output JSON.`

const defaultAssistantSystem = `You are a helpful learning assistant for the user's personal learning roadmap.
Answer the user's question in the context of their roadmap, concretely and concisely.
If the question is unrelated to learning or to the roadmap, gently steer back to the roadmap.`

// PromptPack holds the system prompts for every generation kind.
// Empty fields fall back to the built-in defaults.
type PromptPack struct {
	RoadmapSystem    string `yaml:"roadmap_system"`
	SubroadmapSystem string `yaml:"subroadmap_system"`
	ResourcesSystem  string `yaml:"resources_system"`
	GuideSystem      string `yaml:"guide_system"`
	AssistantSystem  string `yaml:"assistant_system"`
}

// DefaultPromptPack returns the built-in prompts.
func DefaultPromptPack() PromptPack {
	return PromptPack{
		RoadmapSystem:    defaultRoadmapSystem,
		SubroadmapSystem: defaultSubroadmapSystem,
		ResourcesSystem:  defaultResourcesSystem,
		GuideSystem:      defaultGuideSystem,
		AssistantSystem:  defaultAssistantSystem,
	}
}

// LoadPromptPack reads prompt overrides from a YAML file. Fields left empty
// in the file keep their built-in defaults.
func LoadPromptPack(path string) (PromptPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PromptPack{}, fmt.Errorf("read prompt pack %s: %w", path, err)
	}
	pack := DefaultPromptPack()
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return PromptPack{}, fmt.Errorf("parse prompt pack %s: %w", path, err)
	}
	merged := DefaultPromptPack()
	if strings.TrimSpace(pack.RoadmapSystem) != "" {
		merged.RoadmapSystem = pack.RoadmapSystem
	}
	if strings.TrimSpace(pack.SubroadmapSystem) != "" {
		merged.SubroadmapSystem = pack.SubroadmapSystem
	}
	if strings.TrimSpace(pack.ResourcesSystem) != "" {
		merged.ResourcesSystem = pack.ResourcesSystem
	}
	if strings.TrimSpace(pack.GuideSystem) != "" {
		merged.GuideSystem = pack.GuideSystem
	}
	if strings.TrimSpace(pack.AssistantSystem) != "" {
		merged.AssistantSystem = pack.AssistantSystem
	}
	return merged, nil
}

// RoadmapRequest builds the completion request for a full roadmap.
func (p PromptPack) RoadmapRequest(targetJob, instruct string) CompletionRequest {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Target job: %s\n", targetJob))
	if strings.TrimSpace(instruct) != "" {
		sb.WriteString(fmt.Sprintf("Additional instructions: %s\n", instruct))
	}
	sb.WriteString("Design the learning roadmap.")
	return CompletionRequest{
		System:      p.RoadmapSystem,
		Messages:    []Message{{Role: RoleUser, Content: sb.String()}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}

// SubroadmapRequest builds the completion request for a step's sub-roadmap.
func (p PromptPack) SubroadmapRequest(stepTitle, stepDescription string) CompletionRequest {
	user := fmt.Sprintf("Step to expand: %s\nStep description: %s\nDesign the sub-roadmap for this step.", stepTitle, stepDescription)
	return CompletionRequest{
		System:      p.SubroadmapSystem,
		Messages:    []Message{{Role: RoleUser, Content: user}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}

// ResourcesRequest builds the completion request for learning resource recommendations.
func (p PromptPack) ResourcesRequest(stepTitle, stepDescription string) CompletionRequest {
	user := fmt.Sprintf("Roadmap step: %s\nStep description: %s\nRecommend learning resources for this step.", stepTitle, stepDescription)
	return CompletionRequest{
		System:      p.ResourcesSystem,
		Messages:    []Message{{Role: RoleUser, Content: user}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}

// GuideRequest builds the completion request for a streamed step guide.
func (p PromptPack) GuideRequest(roadmapTitle, stepTitle, stepDescription string, tags []string) CompletionRequest {
	user := fmt.Sprintf("Roadmap: %s\nStep: %s\nStep description: %s\n", roadmapTitle, stepTitle, stepDescription)
	if len(tags) > 0 {
		user += fmt.Sprintf("Keywords: %s\n", strings.Join(tags, ", "))
	}
	user += "Write the study guide for this step."
	return CompletionRequest{
		System:      p.GuideSystem,
		Messages:    []Message{{Role: RoleUser, Content: user}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}

// AssistantRequest builds the completion request for the roadmap assistant.
func (p PromptPack) AssistantRequest(roadmapTitle string, stepTitles []string, userInput string) CompletionRequest {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("The user's roadmap is %q with these steps:\n", roadmapTitle))
	for i, title := range stepTitles {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, title))
	}
	sb.WriteString(fmt.Sprintf("\nUser question: %s", userInput))
	return CompletionRequest{
		System:      p.AssistantSystem,
		Messages:    []Message{{Role: RoleUser, Content: sb.String()}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}
