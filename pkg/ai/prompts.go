package ai

const RoutePrompt = `
# Task Context
You are a query router for a knowledge-graph retrieval system. You classify an incoming user question into exactly one retrieval route.

# Background Data
User's question: %s

# Detailed Task Description & Rules
The available routes are:
- "local_search": precise, entity- or fact-level questions about a specific document, value, clause, person, or thing. Example: "What is the total amount on Invoice #1256003?"
- "global_search": thematic questions that aggregate or summarize across many documents. Example: "Summarize the common themes across all contracts."
- "drift_multi_hop": comparative or multi-hop questions that require looking at several documents and relating them. Example: "Which document has the latest effective date?"

Rules:
- Questions containing comparative phrasing ("which document has the latest/highest/earliest", "compare X across") are "drift_multi_hop".
- Questions asking to summarize, aggregate, or find themes "across" or "in all" documents are "global_search".
- Everything else defaults to "local_search".
- If you are unsure, pick "local_search".

# Output Formatting
Return a JSON object with this structure:
{
  "route": "<local_search|global_search|drift_multi_hop>",
  "confidence": <0.0-1.0>,
  "reasoning": "<one short sentence>"
}
`

const ClaimExtractionPrompt = `
# Task Context
You are an analyst extracting grounded claims from a summary of one thematic community of a document corpus, so that a later step can synthesize a cross-document answer.

# Background Data
User's question: %s

Community summary:
%s

Member entities of this community:
%s

# Detailed Task Description & Rules
- Extract at most %d claims from the community summary that are relevant to the user's question.
- A claim is one self-contained factual statement, in the language of the summary.
- Only extract claims supported by the summary text or its member entities. Never invent facts.
- Rate each claim's relevance to the question from 0.0 (unrelated) to 1.0 (directly answers it).
- If the summary contains nothing relevant, return an empty claims list.

# Output Formatting
Return a JSON object with this structure:
{
  "claims": [
    {"text": "<claim>", "relevance": <0.0-1.0>}
  ]
}
`

const ReducePrompt = `
# Task Context
You are a helpful assistant that writes a single, thematically organized answer from two evidence sets: thematic claims extracted from community summaries, and verbatim sentence evidence retrieved from the documents.

# Background Data
## Thematic claims
Each line is <claim text> [[<id>]]
%s

## Sentence evidence
Each line is <sentence text> [[<id>]]
%s

# Detailed Task Description & Rules
- Organize the answer by theme, using the claims as the scaffold and the sentence evidence for factual detail and coverage.
- Every substantive statement must be traceable to a claim or a sentence above: end it with the source IDs of the evidence it came from, wrapped as [[id]].
- A statement may cite multiple sources: [[id]] [[id]].
- Never invent IDs. Only use IDs that appear in the evidence above.
- Do not add any information that is absent from both evidence sets.
- If the sentence evidence surfaces a theme that no claim covers, add it as its own section; never drop it.
- If no evidence is relevant, state that no information is available.

# Output Formatting
- Format your answer in Markdown with one section per theme.
- Always respond in the same language as the user's question.
- Return only the answer, no preamble.

User's question: %s
`

const DecomposePrompt = `
# Task Context
You decompose a comparative or multi-hop question into an ordered list of simpler sub-questions for iterative retrieval.

# Background Data
User's question: %s

# Detailed Task Description & Rules
- Produce between 1 and %d sub-questions, ordered so earlier answers help later retrieval.
- Each sub-question must be answerable from a single document or a small set of facts.
- Also list the named entities or key terms mentioned in the question; they seed the graph traversal.
- Keep the sub-questions in the language of the original question.

# Output Formatting
Return a JSON object with this structure:
{
  "sub_questions": ["<q1>", "<q2>"],
  "seed_terms": ["<term1>", "<term2>"]
}
`

const LocalAnswerPrompt = `
# Task Context
You are a helpful assistant that answers a precise question using only the retrieved evidence below.

# Background Data
Each line is <evidence text> [[<id>]]
%s

# Detailed Task Description & Rules
- Answer only from the evidence. Do not add outside knowledge.
- Every factual statement must end with the source IDs it came from, wrapped as [[id]]. A statement may cite several: [[id]] [[id]].
- Never invent IDs and never leave a placeholder.
- If contradictory statements exist, present all of them and say they are contradictory.
- If the evidence does not contain the answer, say that no information is available.

# Output Formatting
- Return only the direct answer, formatted in Markdown.
- Always respond in the same language as the question.

User's question: %s
`

const DriftSynthesisPrompt = `
# Task Context
You are a helpful assistant producing a comparative answer from evidence gathered over several retrieval hops.

# Background Data
Each line is hop <n>: <evidence text> [[<id>]]
%s

Sub-questions explored, in order:
%s

# Detailed Task Description & Rules
- Answer the user's comparative question using only the evidence above.
- Make the comparison explicit: state the relevant fact per document, then the conclusion.
- Every factual statement must end with the source IDs it came from, wrapped as [[id]], so the citation chain shows which hop contributed which fact.
- Never invent IDs. If evidence conflicts, present both sides.
- If the evidence is insufficient, say which part of the comparison could not be established.

# Output Formatting
- Format your answer in Markdown.
- Always respond in the same language as the question.

User's question: %s
`

const NoDataPrompt = `
# Task Context
You are a helpful assistant. The user asked a question, but no relevant information was found in the knowledge base.

# Background Data
User's question: %s

# Detailed Task Description & Rules
- Generate a brief, helpful response explaining that no relevant information is available in the knowledge base.
- Do not apologize excessively. Be concise and direct.
- Do not invent or hallucinate any information.

# Output Formatting
- Respond in the SAME LANGUAGE as the user's question.
- Keep the response short (1-2 sentences).
- Do not use markdown formatting.
`
