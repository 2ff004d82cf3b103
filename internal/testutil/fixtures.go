package testutil

import "github.com/QTest-hq/riskplan/internal/plan"

// SampleMetrics is a small candidate set spanning two modules and all
// priority classes. IDs are assigned in order starting at 1.
func SampleMetrics() []plan.Metric {
	return []plan.Metric{
		{ID: 1, Name: "login with valid credentials", Module: "Login", ModuleID: 1, Priority: plan.PriorityClass1, Type: "functional",
			Likelihood: 80, Impact: 90, Failures: 4, TotalRuns: 20, FailureRate: 20, DirectImpact: true, Defects: 2, Severity: 8, FeatureSize: 4, ExecutionTime: 3.5},
		{ID: 2, Name: "login lockout after retries", Module: "Login", ModuleID: 1, Priority: plan.PriorityClass2, Type: "functional",
			Likelihood: 40, Impact: 70, Failures: 1, TotalRuns: 10, FailureRate: 10, DirectImpact: false, Defects: 1, Severity: 5, FeatureSize: 5, ExecutionTime: 2},
		{ID: 3, Name: "password reset email", Module: "Login", ModuleID: 1, Priority: plan.PriorityClass1, Type: "functional",
			Likelihood: 60, Impact: 60, Failures: 0, TotalRuns: 0, FailureRate: 5, DirectImpact: true, Defects: 0, Severity: 0, FeatureSize: 0, ExecutionTime: 1},
		{ID: 4, Name: "login page load time", Module: "Login", ModuleID: 1, Priority: plan.PriorityClass3, Type: "performance",
			Likelihood: 30, Impact: 40, Failures: 2, TotalRuns: 50, FailureRate: 4, DirectImpact: false, Defects: 0, Severity: 2, FeatureSize: 3, ExecutionTime: 8},
		{ID: 5, Name: "checkout with saved card", Module: "Payments", ModuleID: 2, Priority: plan.PriorityClass1, Type: "functional",
			Likelihood: 90, Impact: 100, Failures: 6, TotalRuns: 30, FailureRate: 20, DirectImpact: true, Defects: 3, Severity: 9, FeatureSize: 6, ExecutionTime: 6},
		{ID: 6, Name: "refund partial amount", Module: "Payments", ModuleID: 2, Priority: plan.PriorityClass2, Type: "functional",
			Likelihood: 50, Impact: 80, Failures: 1, TotalRuns: 25, FailureRate: 4, DirectImpact: false, Defects: 1, Severity: 6, FeatureSize: 4, ExecutionTime: 4},
		{ID: 7, Name: "currency rounding", Module: "Payments", ModuleID: 2, Priority: plan.PriorityClass3, Type: "functional",
			Likelihood: 20, Impact: 50, Failures: 0, TotalRuns: 40, FailureRate: 0, DirectImpact: false, Defects: 0, Severity: 1, FeatureSize: 2, ExecutionTime: 0.5},
	}
}

// MetricsByID indexes metrics by id
func MetricsByID(metrics []plan.Metric) map[int64]plan.Metric {
	out := make(map[int64]plan.Metric, len(metrics))
	for _, m := range metrics {
		out[m.ID] = m
	}
	return out
}
