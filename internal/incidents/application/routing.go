package application

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AnyRole labels candidates picked by the logged-in fallback.
const AnyRole = "ANY_ROLE"

// RoutingConfig maps alert types to the ordered roles that should respond.
type RoutingConfig struct {
	Roles               map[string][]string `yaml:"roles"`
	DefaultRoles        []string            `yaml:"default_roles"`
	FallbackAnyLoggedIn bool                `yaml:"fallback_any_logged_in"`
}

// DefaultRoutingConfig returns the built-in hospital routing table.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		Roles: map[string][]string{
			"CARDIAC_ARREST":        {"EMERGENCY_DOCTOR", "CARDIOLOGIST"},
			"CARDIAC_ABNORMAL":      {"EMERGENCY_DOCTOR", "CARDIOLOGIST"},
			"MYOCARDIAL_INFARCTION": {"EMERGENCY_DOCTOR", "CARDIOLOGIST"},

			"RESPIRATORY_DISTRESS": {"EMERGENCY_DOCTOR", "PULMONOLOGIST", "NURSE"},
			"O2_SATURATION_LOW":    {"NURSE", "EMERGENCY_DOCTOR", "PULMONOLOGIST"},
			"APNEA_DETECTED":       {"EMERGENCY_DOCTOR", "NURSE"},
			"VENTILATOR_ALARM":     {"NURSE", "EMERGENCY_DOCTOR", "PULMONOLOGIST"},

			"STROKE_SUSPECTED":           {"EMERGENCY_DOCTOR", "NEUROLOGIST"},
			"SEIZURE_DETECTED":           {"NURSE", "EMERGENCY_DOCTOR", "NEUROLOGIST"},
			"INTRACRANIAL_PRESSURE_HIGH": {"EMERGENCY_DOCTOR", "NEUROLOGIST"},

			"HYPERTENSION_CRISIS": {"NURSE", "EMERGENCY_DOCTOR"},
			"HYPOTENSION_SEVERE":  {"NURSE", "EMERGENCY_DOCTOR"},

			"HEMORRHAGE_MAJOR": {"EMERGENCY_DOCTOR", "SURGEON"},
			"TRAUMA_SEVERE":    {"EMERGENCY_DOCTOR", "SURGEON"},

			"HYPOGLYCEMIA_SEVERE":   {"NURSE", "EMERGENCY_DOCTOR"},
			"HYPERGLYCEMIA_SEVERE":  {"NURSE", "EMERGENCY_DOCTOR"},
			"DIABETIC_KETOACIDOSIS": {"EMERGENCY_DOCTOR", "ENDOCRINOLOGIST"},

			"SEPSIS_SUSPECTED": {"EMERGENCY_DOCTOR", "INFECTIOUS_DISEASE"},
			"FEVER_HIGH":       {"NURSE"},

			"MEDICATION_DELAYED": {"NURSE"},
			"MEDICATION_ERROR":   {"NURSE", "EMERGENCY_DOCTOR"},
			"ADVERSE_REACTION":   {"NURSE", "EMERGENCY_DOCTOR"},
			"IV_INFILTRATION":    {"NURSE"},

			"EQUIPMENT_MALFUNCTION": {"BIOMEDICAL_ENGINEER", "NURSE"},
			"EQUIPMENT_LOW_BATTERY": {"BIOMEDICAL_ENGINEER", "NURSE"},

			"FALL_DETECTED":         {"NURSE", "EMERGENCY_DOCTOR"},
			"BED_EXIT_UNAUTHORIZED": {"NURSE"},
			"RESTRAINT_ALERT":       {"NURSE", "EMERGENCY_DOCTOR"},

			"FETAL_DISTRESS":      {"EMERGENCY_DOCTOR", "OBSTETRICIAN"},
			"LABOR_COMPLICATIONS": {"NURSE", "OBSTETRICIAN"},

			"AGITATION_SEVERE": {"NURSE", "EMERGENCY_DOCTOR", "PSYCHIATRIST"},
			"SUICIDE_RISK":     {"PSYCHIATRIST", "NURSE", "EMERGENCY_DOCTOR"},
		},
		DefaultRoles:        []string{"NURSE"},
		FallbackAnyLoggedIn: true,
	}
}

// LoadRoutingConfig loads the routing table, overlaying the YAML file at path on the defaults.
func LoadRoutingConfig(path string) (RoutingConfig, error) {
	cfg := DefaultRoutingConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	var override RoutingConfig
	override.FallbackAnyLoggedIn = cfg.FallbackAnyLoggedIn
	if err := yaml.Unmarshal(data, &override); err != nil {
		return cfg, err
	}
	for alertType, roles := range override.Roles {
		cfg.Roles[normalizeKey(alertType)] = normalizeRoles(roles)
	}
	if roles := normalizeRoles(override.DefaultRoles); len(roles) > 0 {
		cfg.DefaultRoles = roles
	}
	cfg.FallbackAnyLoggedIn = override.FallbackAnyLoggedIn
	return cfg, nil
}

// RolesFor returns the ordered roles for an alert type.
func (c RoutingConfig) RolesFor(alertType string) []string {
	if roles, ok := c.Roles[normalizeKey(alertType)]; ok && len(roles) > 0 {
		return roles
	}
	if len(c.DefaultRoles) > 0 {
		return c.DefaultRoles
	}
	return []string{"NURSE"}
}

func normalizeRoles(roles []string) []string {
	var result []string
	for _, role := range roles {
		role = normalizeKey(role)
		if role != "" {
			result = append(result, role)
		}
	}
	return result
}

func normalizeKey(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
