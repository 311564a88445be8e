package container

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"

	"github.com/majorcontext/agento/internal/id"
	"github.com/majorcontext/agento/internal/provider"
)

const (
	containerHome      = "/home/node/.openclaw"
	containerWorkspace = "/home/node/.openclaw/workspace"
	defaultServicePort = 8080
)

// Limits are the per-container resource ceilings.
type Limits struct {
	MemoryMB    int
	CPUs        int
	PidsLimit   int64
	TmpfsSize   string
	ServicePort int
}

// LaunchSpec is everything needed to run one agent.
type LaunchSpec struct {
	AgentID    string
	Name       string
	Image      string
	SoulMD     string
	IdentityMD string

	// Provider selects the model and the env var APIKey is injected through.
	Provider provider.Spec
	APIKey   string

	// HostPort is bound on 127.0.0.1 to the container's service port.
	HostPort     int
	GatewayToken string

	// AgentDir is the agent's private directory on the host.
	AgentDir string
	// CallbackURL is where the gateway reports credential events.
	CallbackURL string

	Limits Limits
}

// ContainerName returns the container name for an agent.
func ContainerName(agentID string) string {
	return "agento-" + id.Short(agentID)
}

// gatewayConfig is the openclaw.json written into the agent's config dir.
func gatewayConfig(spec LaunchSpec) map[string]any {
	model := spec.Provider.Model
	if model == "" {
		s, _ := provider.Lookup(string(provider.Anthropic))
		model = s.Model
	}
	return map[string]any{
		"gateway": map[string]any{
			"mode": "local",
			"bind": "lan",
			"http": map[string]any{
				"endpoints": map[string]any{
					"chatCompletions": map[string]any{"enabled": true},
				},
			},
		},
		"discovery": map[string]any{
			"mdns": map[string]any{"mode": "off"},
		},
		"agents": map[string]any{
			"defaults": map[string]any{
				"workspace": "~/.openclaw/workspace",
				"model":     map[string]any{"primary": model},
			},
			"list": []any{
				map[string]any{
					"id":        spec.AgentID,
					"name":      spec.Name,
					"default":   true,
					"workspace": "~/.openclaw/workspace",
					"model":     model,
					"identity":  map[string]any{"name": spec.Name},
				},
			},
		},
		"plugins": map[string]any{
			"entries": map[string]any{
				"camofox-browser": map[string]any{"enabled": true},
			},
		},
	}
}

// PrepareAgentDir writes the gateway config and optional SOUL.md and
// IDENTITY.md under spec.AgentDir, creating config/ and workspace/.
func PrepareAgentDir(spec LaunchSpec) error {
	configDir := filepath.Join(spec.AgentDir, "config")
	workspaceDir := filepath.Join(spec.AgentDir, "workspace")
	for _, dir := range []string{configDir, workspaceDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(gatewayConfig(spec), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding gateway config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "openclaw.json"), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing gateway config: %w", err)
	}

	agentConfigDir := filepath.Join(configDir, "agents", "main", "agent")
	for name, content := range map[string]string{"SOUL.md": spec.SoulMD, "IDENTITY.md": spec.IdentityMD} {
		path := filepath.Join(agentConfigDir, name)
		if content == "" {
			// Drop text left over from an earlier start.
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing stale %s: %w", name, err)
			}
			continue
		}
		if err := os.MkdirAll(agentConfigDir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", agentConfigDir, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

// buildContainerConfig translates spec into engine create parameters.
func buildContainerConfig(spec LaunchSpec) (*container.Config, *container.HostConfig) {
	servicePort := spec.Limits.ServicePort
	if servicePort == 0 {
		servicePort = defaultServicePort
	}
	port := nat.Port(fmt.Sprintf("%d/tcp", servicePort))

	env := []string{
		"AGENT_ID=" + spec.AgentID,
		"OPENCLAW_GATEWAY_BIND=lan",
		"OPENCLAW_GATEWAY_TOKEN=" + spec.GatewayToken,
		"OPENCLAW_HEADLESS=1",
		"OPENCLAW_CREDENTIALS_CALLBACK_URL=" + spec.CallbackURL,
		"OPENCLAW_CREDENTIALS_CALLBACK_TOKEN=" + spec.GatewayToken,
	}
	if spec.APIKey != "" && spec.Provider.EnvVar != "" {
		env = append(env, spec.Provider.EnvVar+"="+spec.APIKey)
	}

	var memoryBytes int64
	if spec.Limits.MemoryMB > 0 {
		memoryBytes = int64(spec.Limits.MemoryMB) * 1024 * 1024
	}
	var pidsLimit *int64
	if spec.Limits.PidsLimit > 0 {
		p := spec.Limits.PidsLimit
		pidsLimit = &p
	}
	tmpfs := "rw,nosuid"
	if spec.Limits.TmpfsSize != "" {
		tmpfs += ",size=" + spec.Limits.TmpfsSize
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          []string{"node", "dist/index.js", "gateway", "--bind", "lan"},
		Env:          env,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels: map[string]string{
			LabelAgentID: spec.AgentID,
			LabelManaged: "true",
		},
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		CapDrop:       []string{"ALL"},
		SecurityOpt:   []string{"no-new-privileges"},
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.HostPort)}},
		},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: filepath.Join(spec.AgentDir, "config"), Target: containerHome},
			{Type: mount.TypeBind, Source: filepath.Join(spec.AgentDir, "workspace"), Target: containerWorkspace},
		},
		Tmpfs:      map[string]string{"/tmp": tmpfs},
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
		Resources: container.Resources{
			Memory:    memoryBytes,
			NanoCPUs:  int64(spec.Limits.CPUs) * 1e9,
			PidsLimit: pidsLimit,
		},
	}
	return cfg, hostCfg
}
