package mcp

import "github.com/mark3labs/mcp-go/mcp"

func analyzeFrameTool() mcp.Tool {
	return mcp.NewTool("analyze_frame",
		mcp.WithDescription("Audit a Figma frame for design-system compliance. Returns every classified component, the connected/disconnected summary, the compliance rate and shapes that may be missed components."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Figma frame link, e.g. https://www.figma.com/design/<key>/<title>?node-id=1-2"),
		),
	)
}

func submitFeedbackTool() mcp.Tool {
	return mcp.NewTool("submit_feedback",
		mcp.WithDescription("Correct an analysis. Feedback is turned into classification rules that apply to all future audits."),
		mcp.WithString("frame_id",
			mcp.Required(),
			mcp.Description("Node id of the analyzed frame in colon form, e.g. 1:2"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Enum("missed_component", "wrong_classification", "should_ignore", "other"),
			mcp.Description("Kind of correction"),
		),
		mcp.WithString("component_name",
			mcp.Description("Exact layer name the correction applies to"),
		),
		mcp.WithString("expected_classification",
			mcp.Enum("connected", "disconnected"),
			mcp.Description("Classification the component should receive"),
		),
		mcp.WithString("description",
			mcp.Description("Free-form note"),
		),
		mcp.WithString("node_id",
			mcp.Description("Node id of the component, if known"),
		),
	)
}

func listRulesTool() mcp.Tool {
	return mcp.NewTool("list_rules",
		mcp.WithDescription("List the learned classification rules in evaluation order"),
	)
}

func learningStatsTool() mcp.Tool {
	return mcp.NewTool("learning_stats",
		mcp.WithDescription("Summary of recorded audits, feedback and rules"),
	)
}
