package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeframe-dev/codeframe/pkg/llm"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/store"
)

// discoveryCompleteMarker is emitted by the lead model when it has enough
// context to write the requirements document.
const discoveryCompleteMarker = "DISCOVERY_COMPLETE"

const discoverySystemPrompt = `You are a product lead running a requirements interview.
Ask exactly one clarifying question at a time about the most important open
decision: scope, users, data, integrations, or constraints.
When you have enough to write a requirements document, respond with exactly
DISCOVERY_COMPLETE instead of a question.
Respond with only the question text (or the marker), nothing else.`

const prdSystemPrompt = `You are a product lead. Write a concise product requirements
document in markdown: overview, goals, non-goals, functional requirements
grouped by area, and acceptance criteria. Base it only on the project
description and the interview transcript. Respond with the document only.`

// StartDiscovery begins the Q&A loop for a project in the discovery phase.
func (c *Coordinator) StartDiscovery(ctx context.Context, projectID int64) (*models.DiscoveryQuestion, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Phase != models.PhaseDiscovery {
		return nil, fmt.Errorf("project is in phase %s: %w", project.Phase, store.ErrConflict)
	}
	state, err := c.store.GetDiscoveryState(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if state.State != models.DiscoveryNotStarted {
		return nil, fmt.Errorf("discovery already %s: %w", state.State, store.ErrConflict)
	}

	if err := c.store.SetDiscoveryState(ctx, projectID, models.DiscoveryDiscovering); err != nil {
		return nil, err
	}
	return c.askNextQuestion(ctx, project)
}

// AnswerQuestion records the operator's answer and advances the loop:
// either the next question is asked or discovery completes and the PRD is
// generated.
func (c *Coordinator) AnswerQuestion(ctx context.Context, projectID int64, answer string) (*models.DiscoveryQuestion, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	answered, err := c.store.AnswerQuestion(ctx, projectID, answer)
	if err != nil {
		return nil, err
	}
	if err := c.publisher.DiscoveryAnswered(ctx, projectID, answered.ID); err != nil {
		slog.Error("Failed to publish answer event", "project_id", projectID, "error", err)
	}
	return c.askNextQuestion(ctx, project)
}

// askNextQuestion asks the lead model for the next question, completing
// discovery at the question cap or on the completion marker. Returns nil
// when discovery completed.
func (c *Coordinator) askNextQuestion(ctx context.Context, project *models.Project) (*models.DiscoveryQuestion, error) {
	questions, err := c.store.ListQuestions(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if len(questions) >= c.cfg.DiscoveryMaxQuestions {
		return nil, c.completeDiscovery(ctx, project, questions)
	}

	res, err := c.completeCall(ctx, project.ID, 0, llm.Request{
		Model:  c.cfg.LLMModel,
		System: discoverySystemPrompt,
		Prompt: discoveryTranscript(project, questions),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate question: %w", err)
	}

	text := strings.TrimSpace(res.Text)
	if strings.Contains(text, discoveryCompleteMarker) {
		return nil, c.completeDiscovery(ctx, project, questions)
	}

	q, err := c.store.AddQuestion(ctx, project.ID, text)
	if err != nil {
		return nil, err
	}
	if err := c.publisher.DiscoveryQuestion(ctx, project.ID, q.ID, len(questions)+1, q.Text); err != nil {
		slog.Error("Failed to publish question event", "project_id", project.ID, "error", err)
	}
	return q, nil
}

// completeDiscovery closes the Q&A loop, generates the PRD, and moves the
// project to planning.
func (c *Coordinator) completeDiscovery(ctx context.Context, project *models.Project, questions []*models.DiscoveryQuestion) error {
	if err := c.store.SetDiscoveryState(ctx, project.ID, models.DiscoveryCompleted); err != nil {
		return err
	}
	if err := c.store.SetPRD(ctx, project.ID, models.PRDStatusGenerating, ""); err != nil {
		return err
	}
	if err := c.publisher.PRDStatus(ctx, project.ID, string(models.PRDStatusGenerating)); err != nil {
		slog.Error("Failed to publish prd status", "project_id", project.ID, "error", err)
	}

	res, err := c.completeCall(ctx, project.ID, 0, llm.Request{
		Model:  c.cfg.LLMModel,
		System: prdSystemPrompt,
		Prompt: discoveryTranscript(project, questions),
	})
	if err != nil {
		if setErr := c.store.SetPRD(ctx, project.ID, models.PRDStatusFailed, ""); setErr != nil {
			slog.Error("Failed to record prd failure", "project_id", project.ID, "error", setErr)
		}
		_ = c.publisher.PRDStatus(ctx, project.ID, string(models.PRDStatusFailed))
		return fmt.Errorf("failed to generate requirements document: %w", err)
	}

	if err := c.store.SetPRD(ctx, project.ID, models.PRDStatusAvailable, res.Text); err != nil {
		return err
	}
	if err := c.publisher.PRDStatus(ctx, project.ID, string(models.PRDStatusAvailable)); err != nil {
		slog.Error("Failed to publish prd status", "project_id", project.ID, "error", err)
	}

	if err := c.store.UpdateProjectPhase(ctx, project.ID, models.PhaseDiscovery, models.PhasePlanning); err != nil {
		return err
	}
	if err := c.publisher.PhaseChanged(ctx, project.ID, 0, string(models.PhaseDiscovery), string(models.PhasePlanning)); err != nil {
		slog.Error("Failed to publish phase change", "project_id", project.ID, "error", err)
	}
	slog.Info("Discovery completed", "project_id", project.ID, "questions", len(questions))
	return nil
}

func discoveryTranscript(project *models.Project, questions []*models.DiscoveryQuestion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", project.Name)
	if project.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", project.Description)
	}
	if len(questions) > 0 {
		b.WriteString("\nInterview so far:\n")
		for i, q := range questions {
			fmt.Fprintf(&b, "Q%d: %s\n", i+1, q.Text)
			if q.Answer != "" {
				fmt.Fprintf(&b, "A%d: %s\n", i+1, q.Answer)
			}
		}
	}
	return b.String()
}
