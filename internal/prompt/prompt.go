// Package prompt composes the text sent to the agent: the thread
// instructions, the first user prompt of a session, steer prompts for
// messages that arrive mid-turn, and heartbeat prompts.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// Message is one inbound platform message.
type Message struct {
	ChannelID   string
	MessageID   string
	Author      string
	Text        string
	Attachments []string
	ReceivedAt  time.Time
}

// Bundle is the prompt set for a new thread and its first turn.
type Bundle struct {
	Instructions    string
	DeveloperPrompt string
	UserPrompt      string
}

// Persona is the operator-provided personality of the relay. Empty template
// fields fall back to the built-in templates.
type Persona struct {
	Name              string `yaml:"name"`
	Instructions      string `yaml:"instructions"`
	Developer         string `yaml:"developer"`
	MessageTemplate   string `yaml:"message_template"`
	SteerTemplate     string `yaml:"steer_template"`
	HeartbeatTemplate string `yaml:"heartbeat_template"`
}

const defaultInstructions = `You are {{.Name}}, an assistant taking part in a group chat.
Keep replies short and conversational. Use the tools available to you when a
message asks for work on the workspace.`

const defaultDeveloper = `You never answer in plain text. Every reply to the channel goes through the
send_message tool of the "relay" MCP server. Call list_recent_messages when
you need more context from the channel. Messages may arrive while you are
working; treat them as part of the same conversation.`

const defaultMessageTemplate = `New message in channel {{.ChannelID}} from {{.Author}}:
{{.Text}}
{{- if .Attachments}}

Attachments saved on disk:
{{- range .Attachments}}
- {{.}}
{{- end}}
{{- end}}`

const defaultSteerTemplate = `Another message arrived in channel {{.ChannelID}} from {{.Author}} while you were working:
{{.Text}}
{{- if .Attachments}}

Attachments saved on disk:
{{- range .Attachments}}
- {{.}}
{{- end}}
{{- end}}`

const defaultHeartbeatTemplate = `This is a scheduled check-in at {{.Time}}. Nobody sent a message.
{{.Prompt}}
Only call send_message if there is something worth telling the channel.`

// DefaultPersona returns the built-in persona.
func DefaultPersona() Persona {
	return Persona{Name: "Relay"}
}

// LoadPersona reads a YAML persona file. Fields it leaves out keep their
// defaults.
func LoadPersona(path string) (Persona, error) {
	persona := DefaultPersona()

	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona: %w", err)
	}

	if err := yaml.Unmarshal(data, &persona); err != nil {
		return Persona{}, fmt.Errorf("parse persona %s: %w", path, err)
	}

	return persona, nil
}

// Composer renders prompts from a persona.
type Composer struct {
	personaName string

	instructions *template.Template
	developer    *template.Template
	message      *template.Template
	steer        *template.Template
	heartbeat    *template.Template
}

// NewComposer parses the persona's templates.
func NewComposer(persona Persona) (*Composer, error) {
	if persona.Name == "" {
		persona.Name = DefaultPersona().Name
	}

	c := &Composer{}

	sources := []struct {
		name   string
		source string
		def    string
		dst    **template.Template
	}{
		{name: "instructions", source: persona.Instructions, def: defaultInstructions, dst: &c.instructions},
		{name: "developer", source: persona.Developer, def: defaultDeveloper, dst: &c.developer},
		{name: "message", source: persona.MessageTemplate, def: defaultMessageTemplate, dst: &c.message},
		{name: "steer", source: persona.SteerTemplate, def: defaultSteerTemplate, dst: &c.steer},
		{name: "heartbeat", source: persona.HeartbeatTemplate, def: defaultHeartbeatTemplate, dst: &c.heartbeat},
	}

	for _, s := range sources {
		source := s.source
		if strings.TrimSpace(source) == "" {
			source = s.def
		}

		t, err := template.New(s.name).Option("missingkey=error").Parse(source)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", s.name, err)
		}

		*s.dst = t
	}

	c.personaName = persona.Name

	return c, nil
}

// Compose builds the bundle for a session started by msg.
func (c *Composer) Compose(msg Message) (Bundle, error) {
	user, err := render(c.message, msg)
	if err != nil {
		return Bundle{}, err
	}

	return c.bundle(user)
}

// ComposeSteer renders a message that joins an in-flight turn. The same
// text is used when the message has to start a turn of its own.
func (c *Composer) ComposeSteer(msg Message) (string, error) {
	return render(c.steer, msg)
}

// ComposeHeartbeat builds the bundle for a heartbeat run.
func (c *Composer) ComposeHeartbeat(text string) (Bundle, error) {
	user, err := render(c.heartbeat, map[string]any{
		"Prompt": strings.TrimSpace(text),
		"Time":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Bundle{}, err
	}

	return c.bundle(user)
}

func (c *Composer) bundle(user string) (Bundle, error) {
	persona := map[string]any{"Name": c.personaName}

	instructions, err := render(c.instructions, persona)
	if err != nil {
		return Bundle{}, err
	}

	developer, err := render(c.developer, persona)
	if err != nil {
		return Bundle{}, err
	}

	return Bundle{Instructions: instructions, DeveloperPrompt: developer, UserPrompt: user}, nil
}

func render(t *template.Template, data any) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", t.Name(), err)
	}

	return strings.TrimSpace(b.String()), nil
}
