package mcp

import "github.com/mark3labs/mcp-go/mcp"

const userIDDesc = "User whose context to use. Defaults to the configured default_user_id."

var contextGetToolDef = mcp.NewTool("context_get",
	mcp.WithDescription("Get a user's current context: availability status, energy level, timezone, focus session and privacy scope."),
	mcp.WithString("user_id", mcp.Description(userIDDesc)),
)

var contextUpdateToolDef = mcp.NewTool("context_update",
	mcp.WithDescription("Update fields of a user's context. The change is recorded in history, broadcast to live subscribers and evaluated against the user's action hooks. "+
		"History records the first field in the order availabilityStatus, energyLevel, timezone, focusSessionActive, focusSessionDuration, focusSessionStartTime, privacyScope."),
	mcp.WithString("user_id", mcp.Description(userIDDesc)),
	mcp.WithObject("fields",
		mcp.Required(),
		mcp.Description("Fields to change, e.g. {\"availabilityStatus\": \"focus\", \"energyLevel\": 60}. "+
			"availabilityStatus: available|focus|dnd|away; energyLevel: 0-100; timezone: IANA name; "+
			"focusSessionActive: bool; focusSessionDuration: minutes; focusSessionStartTime: Unix ms or null; privacyScope: private|team|public."),
	),
)

var contextHistoryToolDef = mcp.NewTool("context_history",
	mcp.WithDescription("List a user's context changes, newest first."),
	mcp.WithString("user_id", mcp.Description(userIDDesc)),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 200)")),
	mcp.WithNumber("offset", mcp.Description("Entries to skip")),
)

var hookCreateToolDef = mcp.NewTool("hook_create",
	mcp.WithDescription("Create an action hook that runs an action when a context update matches its trigger."),
	mcp.WithString("user_id", mcp.Description(userIDDesc)),
	mcp.WithString("name", mcp.Required(), mcp.Description("Display name")),
	mcp.WithString("preset",
		mcp.Description("Trigger preset: status_change, energy_low, energy_high, focus_start, focus_end, privacy_change, or a field name to watch. Use preset or condition."),
	),
	mcp.WithObject("condition",
		mcp.Description("Raw trigger: {\"fieldChanged\": field} or {\"field\": f, \"operator\": lt|gt|eq, \"value\": n} or {\"field\": f, \"value\": v}"),
	),
	mcp.WithString("action_type",
		mcp.Required(),
		mcp.Enum("webhook", "notification", "integration_update"),
	),
	mcp.WithObject("action_config",
		mcp.Description("webhook: {url, method?: POST|PUT|PATCH (default POST), headers?}; notification: {message} with {status}, {energy}, {timezone} placeholders; integration_update: {service: slack|discord|teams|calendar}"),
	),
	mcp.WithBoolean("inactive", mcp.Description("Create the hook switched off")),
)

var hookListToolDef = mcp.NewTool("hook_list",
	mcp.WithDescription("List a user's action hooks, newest first."),
	mcp.WithString("user_id", mcp.Description(userIDDesc)),
	mcp.WithBoolean("active_only", mcp.Description("Only list active hooks")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Hooks to skip")),
)

var hookToggleToolDef = mcp.NewTool("hook_toggle",
	mcp.WithDescription("Switch an action hook on or off."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Hook ID")),
	mcp.WithBoolean("active", mcp.Description("New state. Omit to flip the current state.")),
)

var hookDeleteToolDef = mcp.NewTool("hook_delete",
	mcp.WithDescription("Permanently delete an action hook."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Hook ID")),
)

var hookTestToolDef = mcp.NewTool("hook_test",
	mcp.WithDescription("Run an action hook's action once against the user's current context, ignoring its trigger."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Hook ID")),
)
