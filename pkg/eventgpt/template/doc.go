/*
Package template expands ${NAME} placeholders in configuration text.

Run files are expanded before they are parsed, so a placeholder may stand
for any YAML scalar and keeps the type the parser gives it:

	model:
	  hidden_size: ${HIDDEN_SIZE:-32}
	train:
	  learning_rate: ${LR:-0.001}
	checkpoint_db: ${EVENTGPT_DATA}/checkpoints.db

${NAME:-value} falls back to value when NAME is unset. A bare $NAME is
never expanded.

# Usage

	exp := template.NewExpander(template.WithMissingAction(template.MissingError))
	text, err := exp.Expand(raw, template.Chain(
	    template.Vars(map[string]string{"RUN": "baseline"}),
	    template.Env(),
	))

Lookups are tried in order, so explicit variables override the
environment.

# Missing Variables

By default unresolved placeholders are kept as-is. MissingEmpty replaces
them with nothing; MissingError reports every undefined name in one
*UndefinedVariableError.
*/
package template
