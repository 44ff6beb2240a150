package profiling

import (
	"fmt"
	"strings"
	"time"
)

// PlanProfiler measures performance of caller-named plan-computation
// stages across one or more runs bracketed by StartRun/EndRun.
type PlanProfiler struct {
	stages       map[string]time.Duration
	stageCounts  map[string]int64
	stageStart   time.Time
	currentStage string
	runStart     time.Time
	runCount     int64
}

// NewPlanProfiler creates a new plan profiler.
func NewPlanProfiler() *PlanProfiler {
	return &PlanProfiler{
		stages:      make(map[string]time.Duration),
		stageCounts: make(map[string]int64),
		runCount:    0,
	}
}

// StartRun begins timing a new plan-computation run.
func (pp *PlanProfiler) StartRun() {
	pp.runStart = time.Now()
	pp.runCount++
}

// EndRun completes the current run timing.
func (pp *PlanProfiler) EndRun() time.Duration {
	return time.Since(pp.runStart)
}

// StartStage begins timing a computation stage (e.g. "raytrace",
// "convolution", "optimize_iteration", "normalize").
func (pp *PlanProfiler) StartStage(name string) {
	pp.stageStart = time.Now()
	pp.currentStage = name
}

// EndStage completes timing the current stage.
func (pp *PlanProfiler) EndStage() {
	if pp.currentStage == "" {
		return
	}

	duration := time.Since(pp.stageStart)
	pp.stages[pp.currentStage] += duration
	pp.stageCounts[pp.currentStage]++
	pp.currentStage = ""
}

// GetTotalStageTime returns total time spent across all recorded stages.
func (pp *PlanProfiler) GetTotalStageTime() time.Duration {
	total := time.Duration(0)
	for _, duration := range pp.stages {
		total += duration
	}
	return total
}

// GetRunsPerSecond reports throughput for batch/benchmark use, based on
// average stage time per run.
func (pp *PlanProfiler) GetRunsPerSecond() float64 {
	avg := pp.GetAverageRunTime()
	if avg == 0 {
		return 0
	}
	return 1.0 / avg.Seconds()
}

// GetAverageRunTime returns average total stage time across all runs.
func (pp *PlanProfiler) GetAverageRunTime() time.Duration {
	if pp.runCount == 0 {
		return 0
	}

	total := time.Duration(0)
	for _, duration := range pp.stages {
		total += duration
	}

	return total / time.Duration(pp.runCount)
}

// GetStageTime returns total time spent in a stage.
func (pp *PlanProfiler) GetStageTime(stageName string) time.Duration {
	return pp.stages[stageName]
}

// GetStageAverage returns average time per stage execution.
func (pp *PlanProfiler) GetStageAverage(stageName string) time.Duration {
	count := pp.stageCounts[stageName]
	if count == 0 {
		return 0
	}
	return pp.stages[stageName] / time.Duration(count)
}

// Report generates a performance report.
func (pp *PlanProfiler) Report() string {
	var sb strings.Builder

	sb.WriteString("Plan Computation Performance Report\n")
	sb.WriteString("====================================\n\n")

	avgRunTime := pp.GetAverageRunTime()
	runsPerSec := pp.GetRunsPerSecond()

	sb.WriteString(fmt.Sprintf("Runs:            %d\n", pp.runCount))
	sb.WriteString(fmt.Sprintf("Avg run time:    %.2fms\n", avgRunTime.Seconds()*1000))
	sb.WriteString(fmt.Sprintf("Throughput:      %.2f runs/s\n\n", runsPerSec))

	sb.WriteString("Stage Breakdown:\n")
	sb.WriteString("----------------\n")

	stages := make([]string, 0, len(pp.stages))
	for stage := range pp.stages {
		stages = append(stages, stage)
	}

	// Simple bubble sort by total time, descending.
	for i := 0; i < len(stages); i++ {
		for j := i + 1; j < len(stages); j++ {
			if pp.stages[stages[i]] < pp.stages[stages[j]] {
				stages[i], stages[j] = stages[j], stages[i]
			}
		}
	}

	totalTime := time.Duration(0)
	for _, duration := range pp.stages {
		totalTime += duration
	}

	for _, stage := range stages {
		avgTime := pp.GetStageAverage(stage)
		percentage := float64(pp.stages[stage]) / float64(totalTime) * 100

		sb.WriteString(fmt.Sprintf("  %-20s %.2fms (%.1f%%)\n",
			stage+":", avgTime.Seconds()*1000, percentage))
	}

	return sb.String()
}

// Reset clears all profiling data.
func (pp *PlanProfiler) Reset() {
	pp.stages = make(map[string]time.Duration)
	pp.stageCounts = make(map[string]int64)
	pp.runCount = 0
}
