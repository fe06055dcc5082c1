package safety

var domainKeywords = []string{
	// core manufacturing
	"production", "manufacturing", "factory", "plant", "assembly", "fabrication",
	"machining", "processing", "automation", "robotics", "cnc", "machinery",
	// quality and efficiency
	"quality", "defects", "defect", "efficiency", "productivity", "performance",
	"yield", "waste", "scrap", "rework", "inspection", "testing", "compliance",
	"standards", "iso", "lean", "six sigma", "kaizen", "continuous improvement",
	// operations and logistics
	"operations", "workflow", "process", "procedure", "schedule", "planning",
	"inventory", "supply chain", "logistics", "warehouse", "distribution",
	"shipping", "receiving", "procurement", "sourcing", "vendor", "supplier",
	// equipment and maintenance
	"equipment", "machine", "tool", "maintenance", "repair", "downtime",
	"uptime", "breakdown", "preventive", "predictive", "calibration",
	"oee", "overall equipment effectiveness",
	// people and shifts
	"operator", "technician", "supervisor", "foreman", "shift", "worker",
	"employee", "team", "crew", "training", "skill", "safety",
	// metrics
	"kpi", "metric", "target", "goal", "benchmark", "baseline", "trend",
	"analysis", "report", "dashboard", "monitoring", "tracking",
	// materials
	"material", "component", "part", "raw material", "finished goods",
	"batch", "lot", "serial number", "bom", "bill of materials",
	// data
	"data", "chart", "graph", "visualization", "statistics", "correlation",
	"pattern", "insight", "summary", "overview", "comparison", "ranking",
	"top performers", "bottom performers", "outliers", "anomalies",
}

var analysisKeywords = []string{
	"show", "display", "plot", "chart", "graph", "visualize", "analyze",
	"compare", "trend", "pattern", "correlation", "summary", "overview",
	"top", "bottom", "best", "worst", "highest", "lowest", "average",
	"total", "count", "percentage", "rate", "ratio", "distribution",
	"frequency", "range", "variance", "standard deviation", "median",
	"quartile", "percentile", "outlier", "anomaly", "insight",
	"performers", "performance", "ranking", "comparison",
}

var unsafeTerms = []string{
	"sex", "sexual", "porn", "nude", "naked", "explicit",
	"adult", "xxx", "erotic", "intimate",
	"kill", "murder", "violence", "weapon", "bomb", "terrorist",
	"suicide", "self-harm", "hurt", "pain", "torture",
	"drugs", "illegal", "criminal", "hack", "steal", "fraud",
	"piracy", "copyright", "crack", "bypass",
	"password", "credit card", "ssn", "social security", "bank account",
	"phone number", "address", "email", "personal",
}

var irrelevantTerms = []string{
	"movie", "film", "music", "song", "celebrity", "actor", "actress",
	"game", "gaming", "video game", "sport", "football", "basketball",
	"facebook", "twitter", "instagram", "tiktok", "social media",
	"dating", "relationship", "friendship", "personal life",
	"recipe", "cooking", "food", "restaurant", "cuisine",
	"travel", "vacation", "tourism", "country", "city", "geography",
	"weather", "temperature", "rain", "snow", "climate",
	"politics", "political", "religion", "religious", "god", "church",
	"doctor", "medicine", "hospital", "disease", "symptom",
	"stock", "investment", "crypto", "bitcoin", "trading",
}

var genericPatterns = []string{
	`\b(what|show|how|which|when|where)\b.*\b(data|trend|chart|graph)\b`,
	`\b(analyze|analysis|compare|comparison)\b`,
	`\b(top|best|worst|highest|lowest)\b`,
	`\b(summary|overview|report)\b`,
}

// Examples are sample questions offered when a query is rejected.
var Examples = []string{
	"Show me production trends over the last month",
	"Which production line has the highest output?",
	"Compare efficiency between different shifts",
	"What's the defect rate trend?",
	"Show downtime analysis by equipment",
	"Summarize last week's production data",
}
