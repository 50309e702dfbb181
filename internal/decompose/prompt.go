package decompose

// decompositionPrompt is the prompt template for turning a goal into tasks.
const decompositionPrompt = `Break this development goal into typed subtasks forming a dependency graph. Each task should be sized so a single tool invocation or reasoning step can complete it.

Goal:
%s

Return ONLY a JSON array of tasks with this exact structure (no other text):
[
  {
    "id": "short-unique-id",
    "description": "What this task accomplishes",
    "type": "THINK|PLAN|READ|WRITE|EXECUTE|TEST",
    "depends_on": ["id of dependency 1"],
    "estimated_seconds": 30,
    "risk": "LOW|MEDIUM|HIGH",
    "inputs": ["artifact names this task consumes"],
    "outputs": ["artifact names this task produces"]
  }
]

Task Type Classification:
- THINK: pure reasoning or analysis, no side effects
- PLAN: a goal too large for one step, to be decomposed further
- READ: gathering information from files or other sources
- WRITE: producing or modifying files
- EXECUTE: running commands
- TEST: verifying prior work

Guidelines:
- Tasks should be as independent as possible to allow parallel execution
- Only add dependencies when truly necessary (task A must complete before task B)
- estimated_seconds must be a positive number
- Use empty array [] for depends_on if there are no dependencies
- inputs/outputs name the artifacts flowing between tasks; a task that
  consumes what another produces implicitly depends on it
- Risk: LOW for read-only work, MEDIUM for file modification, HIGH for
  command execution or anything hard to undo`

// repairPrompt is appended when the previous response failed to parse or
// validate, asking the model to fix its own output.
const repairPrompt = `Your previous response could not be used:

%s

Problem:
%s

Return ONLY the corrected JSON array, with the exact structure requested. No prose, no markdown fences.`
