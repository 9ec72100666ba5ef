package scheduler

// ServiceRef names a Home Assistant service with the data the
// integration should call it with when a slot starts or ends.
type ServiceRef struct {
	Name  string         `json:"name"`
	Value map[string]any `json:"value"`
}

// SlotRequest describes a slot to create via the add_item service.
type SlotRequest struct {
	EntityID string
	// Time is "HH:MM".
	Time     string
	Weekdays []int
	// Duration in minutes; nil leaves the slot open-ended.
	Duration     *int
	ServiceStart ServiceRef
	ServiceEnd   *ServiceRef
	Title        string
	Temporary    bool
}

// BuildSlotPayload assembles the add_item service data. Optional
// fields are left out entirely rather than sent empty: the
// integration treats a present-but-empty title or a false temporary
// flag differently from an absent one.
func BuildSlotPayload(req SlotRequest) map[string]any {
	data := map[string]any{
		"entity_id":     req.EntityID,
		"time":          req.Time,
		"weekdays":      req.Weekdays,
		"enabled":       true,
		"service_start": req.ServiceStart,
	}

	if req.Duration != nil {
		data["duration"] = *req.Duration
	}

	if req.ServiceEnd != nil {
		data["service_end"] = *req.ServiceEnd
	}

	if req.Title != "" {
		data["title"] = req.Title
	}

	if req.Temporary {
		data["temporary"] = true
	}

	return data
}

// SwitchServices returns the start/end services for a switch entity:
// turn on at slot start, turn off at slot end.
func SwitchServices(entityID string) (start ServiceRef, end *ServiceRef) {
	start = ServiceRef{
		Name:  "switch.turn_on",
		Value: map[string]any{"entity_id": entityID},
	}
	end = &ServiceRef{
		Name:  "switch.turn_off",
		Value: map[string]any{"entity_id": entityID},
	}

	return start, end
}

// ClimateServices returns the start/end services for a climate
// entity: set the configured HVAC mode at slot start, switch off at
// slot end.
func ClimateServices(entityID, hvacMode string) (start ServiceRef, end *ServiceRef) {
	start = ServiceRef{
		Name: "climate.set_hvac_mode",
		Value: map[string]any{
			"entity_id": entityID,
			"hvac_mode": hvacMode,
		},
	}
	end = &ServiceRef{
		Name: "climate.set_hvac_mode",
		Value: map[string]any{
			"entity_id": entityID,
			"hvac_mode": "off",
		},
	}

	return start, end
}
