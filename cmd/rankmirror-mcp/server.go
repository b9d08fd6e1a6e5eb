package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/allcookiesaccept/rankmirror"
)

const (
	serverName    = "rankmirror"
	serverVersion = "0.1.0"
)

// server exposes the rankmirror engine as MCP tools.
type server struct {
	engine   *rankmirror.Engine
	daysBack int
	logger   *zap.Logger
	syncMu   sync.Mutex
}

func newServer(engine *rankmirror.Engine, daysBack int, logger *zap.Logger) *server {
	return &server{engine: engine, daysBack: daysBack, logger: logger}
}

// mcpServer builds an MCP server with every tool registered.
func (s *server) mcpServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	s.register(srv)
	return srv
}

// run serves MCP over stdin/stdout until ctx is done or the client hangs up.
func (s *server) run(ctx context.Context) error {
	s.logger.Info("starting", zap.Int("days_back", s.daysBack))
	return s.mcpServer().Run(ctx, &mcp.StdioTransport{})
}

func (s *server) register(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "snapshots_list",
		Description: "List stored daily ranking snapshots, newest first. Each snapshot has position counts per top bucket, average position and visibility for one project, region and date.",
		InputSchema: inputSchema(map[string]any{
			"project_id":   map[string]any{"type": "integer", "description": "Only this Topvisor project id"},
			"region_index": map[string]any{"type": "integer", "description": "Only this region index"},
			"from":         map[string]any{"type": "string", "description": "Earliest date, YYYY-MM-DD"},
			"to":           map[string]any{"type": "string", "description": "Latest date, YYYY-MM-DD"},
			"limit":        map[string]any{"type": "integer", "description": "Maximum number of snapshots (default 50)"},
		}, nil),
	}, s.snapshotsList)

	addTool(srv, &mcp.Tool{
		Name:        "runs_recent",
		Description: "Show recent sync runs with their counters, status and error message if any.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum number of runs (default 20)"},
		}, nil),
	}, s.runsRecent)

	addTool(srv, &mcp.Tool{
		Name:        "sync_now",
		Description: "Fetch the latest ranking snapshots from Topvisor, store the new ones and republish the spreadsheet.",
		InputSchema: inputSchema(map[string]any{
			"days_back": map[string]any{"type": "integer", "description": "Look back this many days for position checks (default from config)"},
		}, nil),
	}, s.syncNow)

	addTool(srv, &mcp.Tool{
		Name:        "projects_list",
		Description: "List Topvisor projects visible to the configured account, with the region indexes usable in the sync configuration.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, s.projectsList)
}

// addTool registers fn, decoding its arguments and encoding its result as
// JSON text. Errors are reported as tool errors, not protocol errors.
func addTool[T any](srv *mcp.Server, tool *mcp.Tool, fn func(context.Context, *T) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in T
		if args := req.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}

		out, err := fn(ctx, &in)
		if err != nil {
			return toolError(err), nil
		}

		data, err := json.Marshal(out)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

func (s *server) snapshotsList(_ context.Context, in *snapshotsListInput) (any, error) {
	f := rankmirror.SnapshotFilter{Limit: 50}
	if in.ProjectID != nil {
		f.ProjectID = *in.ProjectID
	}
	if in.RegionIndex != nil {
		f.RegionIndex = *in.RegionIndex
	}
	if in.From != nil {
		f.From = *in.From
	}
	if in.To != nil {
		f.To = *in.To
	}
	if in.Limit != nil {
		f.Limit = *in.Limit
	}

	snaps, err := s.engine.Snapshots(f)
	if err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []rankmirror.Snapshot{}
	}
	return snaps, nil
}

func (s *server) runsRecent(_ context.Context, in *runsRecentInput) (any, error) {
	limit := 20
	if in.Limit != nil {
		limit = *in.Limit
	}
	runs, err := s.engine.Runs(limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []rankmirror.SyncRun{}
	}
	return runs, nil
}

func (s *server) syncNow(ctx context.Context, in *syncNowInput) (any, error) {
	daysBack := s.daysBack
	if in.DaysBack != nil {
		daysBack = *in.DaysBack
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	result, err := s.engine.Sync(ctx, daysBack)
	if err != nil {
		s.logger.Error("sync_now failed", zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (s *server) projectsList(ctx context.Context, _ *struct{}) (any, error) {
	projects, err := s.engine.Projects(ctx)
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []rankmirror.Project{}
	}
	return projects, nil
}
