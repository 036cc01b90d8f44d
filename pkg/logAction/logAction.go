package logAction

type LoggerAction struct {
	Action            string
	ActionDescription string
	SubAction         string
}

type DBOperation string

const (
	DB_CREATE DBOperation = "create"
	DB_READ   DBOperation = "read"
	DB_UPDATE DBOperation = "update"
	DB_DELETE DBOperation = "delete"
)

func newAction(action, desc string, sub ...string) LoggerAction {
	a := LoggerAction{Action: action, ActionDescription: desc}
	if len(sub) > 0 {
		a.SubAction = sub[0]
	}
	return a
}

func INBOUND(desc string) LoggerAction  { return newAction("[INBOUND]", desc) }
func OUTBOUND(desc string) LoggerAction { return newAction("[OUTBOUND]", desc) }
func EXCEPTION(desc string) LoggerAction {
	return newAction("[EXCEPTION]", desc)
}

// SIGN, VERIFY and JWKS mark node-level processing steps.
func SIGN(desc string) LoggerAction   { return newAction("[SIGN]", desc) }
func VERIFY(desc string) LoggerAction { return newAction("[VERIFY]", desc) }
func JWKS(desc string) LoggerAction   { return newAction("[JWKS]", desc) }

// WARN is used for diagnostics that do not change control flow.
func WARN(desc string) LoggerAction { return newAction("[WARN]", desc) }

func DB_REQUEST(op DBOperation, desc string) LoggerAction {
	return newAction("[DB_REQUEST]", desc, string(op))
}

func DB_RESPONSE(op DBOperation, desc string) LoggerAction {
	return newAction("[DB_RESPONSE]", desc, string(op))
}

func PRODUCING(desc string) LoggerAction { return newAction("[PRODUCING]", desc) }
func CONSUMING(desc string) LoggerAction { return newAction("[CONSUMING]", desc) }
