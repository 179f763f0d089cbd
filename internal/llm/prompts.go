package llm

// Prompt templates for the three pipeline stages. Every template demands a
// JSON-only reply so the clients can run in JSON mode; parse failures are
// still expected and handled by the callers.

const ClassifyPrompt = `You are a universal research question classifier.

QUESTION: %s

Respond in STRICT JSON ONLY:
{
  "question_type": "factual|hypothesis|methodology|comparative",
  "keywords": ["...", "..."]
}`

const ReasonPrompt = `You are a rigorous scientific reasoning assistant. Your reply must be JSON only, no prose.

QUESTION:
%s

EVIDENCE:
%s%s

Respond ONLY with valid JSON matching this schema:
{
  "answer": "string",
  "gaps": ["string", ...],
  "roadmap": [
    {
      "priority": 1,
      "research_area": "string",
      "next_milestone": "string",
      "timeline": "6-12 months",
      "success_probability": 0.65
    }
  ],
  "citations": [
    {"doi": "doi-string", "title": "paper-title", "index": 1}
  ]
}`

const CritiquePrompt = `You are a strict citation verification agent. Your reply must be valid JSON; do not add commentary.

QUESTION:
%s

ANSWER:
%s

CITATIONS:
%s

Evaluate whether every claim in the answer is fully supported by the citations.
Respond ONLY in valid JSON with this schema:
{
  "sufficient": true,
  "gap_notes": ["claim 1", "claim 2"],
  "support_level": "strong|moderate|weak"
}`
