package mcp

// Tool describes one entry in the tools/list catalog.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func obj(props map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func strEnum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values, "description": desc}
}

func strArr(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

var toolCatalog = []Tool{
	{
		Name:        "howell_bootstrap",
		Description: "Load Claude-Howell's full context at session start. Returns identity, knowledge graph, status, tasks, and sibling instances.",
		InputSchema: obj(map[string]any{}),
	},
	{
		Name:        "howell_status",
		Description: "Get persistence system status: heartbeat, file changes, queue, tasks, instances.",
		InputSchema: obj(map[string]any{}),
	},
	{
		Name:        "howell_add_entity",
		Description: "Create a new entity in the knowledge graph, or add observations to an existing one.",
		InputSchema: obj(map[string]any{
			"name":         str("Entity name"),
			"entity_type":  str("Type (Project, Person, Concept, Tool, etc.)"),
			"observations": strArr("Initial observations"),
		}, "name", "entity_type"),
	},
	{
		Name:        "howell_add_observation",
		Description: "Add an observation to an existing entity in the knowledge graph.",
		InputSchema: obj(map[string]any{
			"entity":      str("Entity name"),
			"observation": str("Observation text"),
		}, "entity", "observation"),
	},
	{
		Name:        "howell_add_relation",
		Description: "Create a directed relation between two entities in the knowledge graph.",
		InputSchema: obj(map[string]any{
			"from_entity":   str("Source entity name"),
			"relation_type": str("Relation type (e.g. created, uses, part_of)"),
			"to_entity":     str("Target entity name"),
		}, "from_entity", "relation_type", "to_entity"),
	},
	{
		Name:        "howell_broadcast",
		Description: "Broadcast current activity and active files to sibling instances for coordination.",
		InputSchema: obj(map[string]any{
			"activity":     str("What you're working on"),
			"active_files": strArr("Files being edited"),
		}, "activity"),
	},
	{
		Name:        "howell_delete_entity",
		Description: "Delete an entity and all its relations from the knowledge graph.",
		InputSchema: obj(map[string]any{
			"name": str("Entity name to delete"),
		}, "name"),
	},
	{
		Name:        "howell_delete_observation",
		Description: "Delete observations matching a substring (case-insensitive) from an entity.",
		InputSchema: obj(map[string]any{
			"entity":    str("Entity name"),
			"substring": str("Substring to match for removal"),
		}, "entity", "substring"),
	},
	{
		Name:        "howell_delete_relation",
		Description: "Delete a specific relation from the knowledge graph.",
		InputSchema: obj(map[string]any{
			"from_entity":   str("Source entity"),
			"relation_type": str("Relation type"),
			"to_entity":     str("Target entity"),
		}, "from_entity", "relation_type", "to_entity"),
	},
	{
		Name:        "howell_end_session",
		Description: "End-of-session capture. Saves what happened, what was learned, and optionally pins a memory.",
		InputSchema: obj(map[string]any{
			"summary":      str("What happened this session"),
			"what_learned": str("Key things learned"),
			"pin_title":    str("Title for pinned memory (optional)"),
			"pin_text":     str("Pinned memory text"),
			"pin_reason":   str("Why this should be pinned"),
		}, "summary"),
	},
	{
		Name:        "howell_instances",
		Description: "List all active Claude-Howell instances (sibling sessions).",
		InputSchema: obj(map[string]any{}),
	},
	{
		Name:        "howell_log_session",
		Description: "Log a session event to the session log.",
		InputSchema: obj(map[string]any{
			"action":  str("Action being logged"),
			"details": str("Details"),
		}, "action"),
	},
	{
		Name:        "howell_merge_entities",
		Description: "Merge one entity into another: combines observations (deduped), repoints relations, deletes source.",
		InputSchema: obj(map[string]any{
			"source": str("Entity to merge FROM (will be deleted)"),
			"target": str("Entity to merge INTO (will be kept)"),
		}, "source", "target"),
	},
	{
		Name:        "howell_pin",
		Description: "Pin a core memory: permanent, never evicted.",
		InputSchema: obj(map[string]any{
			"title":  str("Memory title"),
			"text":   str("Memory content"),
			"reason": str("Why this matters"),
		}, "title", "text", "reason"),
	},
	{
		Name:        "howell_procedure",
		Description: "Look up procedural memory. Pass a topic or 'list' to see all available procedures.",
		InputSchema: obj(map[string]any{
			"topic": str("Topic to look up, or 'list'"),
		}, "topic"),
	},
	{
		Name:        "howell_query",
		Description: "Search the knowledge graph for entities, relations, or observations matching a term.",
		InputSchema: obj(map[string]any{
			"term": str("Search term"),
		}, "term"),
	},
	{
		Name:        "howell_read_identity",
		Description: "Read a specific identity file (soul, memory, questions, context, projects, pinned, summary).",
		InputSchema: obj(map[string]any{
			"file": strEnum("Which identity file to read",
				"soul", "memory", "questions", "context", "projects", "pinned", "summary"),
		}, "file"),
	},
	{
		Name:        "howell_rename_entity",
		Description: "Rename an entity, updating all relations that reference it.",
		InputSchema: obj(map[string]any{
			"old_name": str("Current entity name"),
			"new_name": str("New entity name"),
		}, "old_name", "new_name"),
	},
	{
		Name:        "howell_task_claim",
		Description: "Claim a task from the queue for this instance.",
		InputSchema: obj(map[string]any{
			"task_id": str("Task ID to claim"),
		}, "task_id"),
	},
	{
		Name:        "howell_task_create",
		Description: "Create a new task in the task queue.",
		InputSchema: obj(map[string]any{
			"title":       str("Task title"),
			"description": str("Task description"),
			"priority":    strEnum("Priority", "low", "medium", "high", "critical"),
			"project":     str("Project name"),
			"scope_tags":  strArr("Scope tags"),
		}, "title"),
	},
	{
		Name:        "howell_task_update",
		Description: "Update a claimed task: start, add note, complete, fail, or release.",
		InputSchema: obj(map[string]any{
			"task_id":   str("Task ID"),
			"action":    strEnum("Action to perform", "start", "note", "complete", "fail", "release"),
			"message":   str("Note text, result, or failure reason"),
			"artifacts": strArr("Files modified (for complete)"),
		}, "task_id", "action"),
	},
	{
		Name:        "howell_tasks",
		Description: "View the task queue / worker board.",
		InputSchema: obj(map[string]any{
			"status": strEnum("Filter by status", "pending", "claimed", "in-progress", "completed", "all"),
		}),
	},
}
