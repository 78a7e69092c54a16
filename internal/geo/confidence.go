package geo

import "github.com/example/delivery-tracking/internal/models"

// ConfidenceIcon returns the marker symbol shown next to a geocoded address.
func ConfidenceIcon(c models.Confidence) string {
	switch c {
	case models.ConfidenceHigh:
		return "✓"
	case models.ConfidenceMedium:
		return "≈"
	case models.ConfidenceLow:
		return "!"
	case models.ConfidenceFailed:
		return "✗"
	default:
		return "?"
	}
}

// ConfidenceLabel is the French caption shown with the icon.
func ConfidenceLabel(c models.Confidence) string {
	switch c {
	case models.ConfidenceHigh:
		return "Haute précision"
	case models.ConfidenceMedium:
		return "Précision moyenne"
	case models.ConfidenceLow:
		return "Précision faible"
	case models.ConfidenceFailed:
		return "Géocodage échoué"
	default:
		return "Non vérifié"
	}
}

// ErrorMargin is the approximate radius within which the real address lies.
// Failed and unknown confidences have no margin.
func ErrorMargin(c models.Confidence) string {
	switch c {
	case models.ConfidenceHigh:
		return "~10 m"
	case models.ConfidenceMedium:
		return "~50 m"
	case models.ConfidenceLow:
		return "~500 m"
	default:
		return ""
	}
}
