package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mindwatch-health/mindwatch/internal/genai"
)

// CrisisPlanMaxTokens bounds the plan response. Plans are structured
// JSON, not prose, so a tighter limit than the interview's keeps
// responses parseable.
const CrisisPlanMaxTokens = 500

const crisisPlanSystemPrompt = "You are a helpful AI therapist assistant."

const crisisPlanPromptTemplate = `You are an AI-powered mental health assistant helping therapists assess bipolar patients.
Based on the provided biometric data (Apple Watch) and behavioral assessment summary, generate
a **detailed** personalized crisis plan. The recommendations must be **specific, quantifiable, and actionable**.

--- Patient Biometric Data ---
%s

--- Behavioral Assessment Summary ---
%s

--- Task ---
1. **Current State Analysis**:
   - Determine if the patient is experiencing **Mania, Hypomania, Depression, Mixed Episode, or Rapid Cycling** based on provided data.
   - Assign a **confidence level (percentage)** to this classification.
   - If uncertain, specify what additional data would be needed for better accuracy.

2. **AI-Generated Crisis Plan**: Provide structured, detailed, and specific recommendations tailored to the patient's current state.
   - **Physical Activity**: If increased activity is recommended, specify **duration, frequency, and type** (e.g., "Engage in 30-45 minutes of moderate exercise, such as walking or swimming, at least 4 times per week").
   - **Sleep Adjustments**: If a structured sleep routine is suggested, define **specific changes** (e.g., "Reduce bedtime by 1 hour", "Increase total sleep time by 2 hours", "Establish a consistent bedtime of 10 PM").
   - **Social Engagement**:
     - If mild symptoms, recommend **specific interactions** (e.g., "Attend a social gathering once per week" or "Call a close friend twice a week").
     - If symptoms are **concerning**, recommend scheduling **more frequent therapy sessions** (e.g., "Schedule an emergency therapy session within 48 hours").
     - If symptoms are **severe**, notify the emergency contact (e.g., "Ask emergency contact to check in on the patient daily").
   - **Medication Review**:
     - If symptoms persist despite medication, recommend **checking for side effects** (e.g., "Patient may be experiencing side effects from lithium; consider dosage review").
     - If non-compliance is detected, **suggest steps** (e.g., "Patient has skipped doses in the past week. Consider medication adherence counseling").
   - **Risk Alerts**:
     - If **agitation levels** are high, suggest grounding techniques and **reducing stimulation** (e.g., "Reduce screen time before bed, practice mindfulness for 15 minutes").
     - If **sleep deprivation is severe**, recommend **urgent intervention** (e.g., "Significant sleep loss detected for 3 consecutive days, consult psychiatrist within 24 hours").
     - If **suicidal ideation or high-risk behavior is detected**, **immediate action required** (e.g., "Notify emergency contact and activate crisis protocol").

3. **Intervention Suggestions**:
   - Provide **specific therapist actions** to stabilize the patient.
   - List **monitoring strategies** (e.g., "Track mood daily in app", "Increase Apple Watch check-ins to every 2 hours").
   - Suggest structured **coping mechanisms** based on current symptoms (e.g., "If experiencing racing thoughts, use guided breathing exercises for 10 minutes").

4. **Urgency Level**:
   - **Low**: No immediate action required; mild fluctuations in mood.
   - **Moderate**: Symptoms present but manageable with lifestyle adjustments.
   - **High**: Patient requires **immediate therapist intervention**; high risk of escalation.
   - **Immediate / Suicidal**: **Activate emergency response**; patient is in critical danger and requires immediate support.

Respond in a **structured JSON format** without additional explanations.`

// CrisisPlanner turns biometric data plus a behavioral summary into a
// structured crisis plan via the chat model.
type CrisisPlanner struct {
	client genai.ClientInterface
}

// NewCrisisPlanner constructs a crisis planner backed by the chat model.
func NewCrisisPlanner(client genai.ClientInterface) *CrisisPlanner {
	return &CrisisPlanner{client: client}
}

// Generate builds the assessment prompt, calls the chat model with a
// reduced token budget, and parses the returned JSON plan. A response
// that is not valid JSON after fence cleanup is an error; no partial
// plan is returned.
func (p *CrisisPlanner) Generate(ctx context.Context, biometrics map[string]interface{}, behavioralSummary string) (map[string]interface{}, error) {
	biometricJSON, err := json.MarshalIndent(biometrics, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode biometric data: %w", err)
	}

	prompt := fmt.Sprintf(crisisPlanPromptTemplate, string(biometricJSON), behavioralSummary)

	text, err := p.client.GenerateWithLimit(ctx, crisisPlanSystemPrompt, prompt, CrisisPlanMaxTokens)
	if err != nil {
		slog.Error("CrisisPlanner.Generate: chat model call failed", "error", err)
		return nil, fmt.Errorf("crisis plan generation failed: %w", err)
	}

	var plan map[string]interface{}
	if err := json.Unmarshal([]byte(StripCodeFences(text)), &plan); err != nil {
		slog.Warn("CrisisPlanner.Generate: model response is not valid JSON", "error", err)
		return nil, fmt.Errorf("crisis plan response is not valid JSON: %w", err)
	}

	slog.Debug("CrisisPlanner.Generate: plan generated", "keys", len(plan))
	return plan, nil
}
