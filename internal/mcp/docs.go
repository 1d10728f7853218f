package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `civicsync triage exposes municipal issue reports to staff.

Workflow:
1) Orient: call report_counts for totals, per-department volume and resolution times.
2) Browse: list_reports with statuses, priorities or categories filters (all optional, combined with AND).
3) Inspect: get_report(id) for the full row.
4) Act: begin_work moves pending -> in-progress and assigns you. resolve_report needs completion_image_url
   and moves in-progress -> resolved. reopen_report moves in-progress back to pending.
   Resolved reports are final.

Errors carry a code: ILLEGAL_TRANSITION, VALIDATION, NOT_FOUND, CONFLICT, FORBIDDEN, WRITE_FAILED.
On CONFLICT another staff member changed the report first; list again before retrying.

Docs: civicsync://docs/lifecycle`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "civicsync://docs/lifecycle",
		Name:        "docs_lifecycle",
		Title:       "Report lifecycle",
		Description: "Statuses, allowed transitions and the fields each transition writes.",
		Content: `# Report lifecycle

| From | To | Writes |
|---|---|---|
| pending | in-progress | assigned_employee_id (defaults to the acting employee) |
| in-progress | resolved | completion_image_url (required), resolution_notes, completed_at |
| in-progress | pending | clears assigned_employee_id unless a new assignee is given |

Resolved is terminal. Any other pair is rejected with ILLEGAL_TRANSITION and nothing is written.

## Priority

New reports take the priority the citizen picked, or the department default:
Emergency Services starts high, every other department medium.

## Map colours

resolved is green whatever the priority; otherwise high is red, medium amber, low gray.

## Sync status

Tool results carry the sync status of the triage session: connecting, live, suspect or stopped.
While suspect the data may be stale and a reload is in flight.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		doc := doc

		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
