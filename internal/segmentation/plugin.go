package segmentation

import (
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// Handshake guards against launching a binary that is not a segmenter
// plugin
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MASKTRACE_PLUGIN",
	MagicCookieValue: "segmenter-v1",
}

// PluginName is the dispense key for the segmenter plugin
const PluginName = "segmenter"

// EnginePlugin is the go-plugin wrapper around an Engine implementation
type EnginePlugin struct {
	Impl Engine
}

// Server returns the RPC server for this plugin
func (p *EnginePlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return newEngineRPCServer(p.Impl), nil
}

// Client returns the RPC client for this plugin
func (p *EnginePlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &engineRPCClient{client: c}, nil
}

// pluginCommand builds the plugin invocation. The selected model rides
// along as a CLI flag so the plugin process loads the right checkpoint.
func pluginCommand(pluginPath, model string) *exec.Cmd {
	if model == "" {
		return exec.Command(pluginPath)
	}
	return exec.Command(pluginPath, "-model", model)
}

// Dial launches the plugin binary at pluginPath with the given model
// and returns the remote engine plus a shutdown function that kills
// the plugin process.
func Dial(pluginPath, model string, logger hclog.Logger) (Engine, func(), error) {
	if model != "" {
		if _, _, err := ResolveModel(model); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          map[string]plugin.Plugin{PluginName: &EnginePlugin{}},
		Cmd:              pluginCommand(pluginPath, model),
		Logger:           logger.Named("segmenter-plugin"),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("%w: failed to start plugin: %v", ErrModelUnavailable, err)
	}

	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("%w: failed to dispense segmenter: %v", ErrModelUnavailable, err)
	}

	engine, ok := raw.(Engine)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("%w: plugin does not implement the engine contract", ErrModelUnavailable)
	}

	return engine, client.Kill, nil
}

// Serve runs an engine implementation as a plugin binary; it blocks
// until the host kills the process.
func Serve(impl Engine) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         map[string]plugin.Plugin{PluginName: &EnginePlugin{Impl: impl}},
	})
}
