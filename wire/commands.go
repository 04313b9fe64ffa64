package wire

// Command is the `cmd` discriminant of an envelope.
type Command string

// Commands sent by the editor.
const (
	CmdRegister               Command = "register"
	CmdExport                 Command = "export"
	CmdModelUpdate            Command = "modelUpdate"
	CmdHoverStart             Command = "hoverStart"
	CmdHoverEnd               Command = "hoverEnd"
	CmdRefresh                Command = "refresh"
	CmdDebugInspectors        Command = "debugInspectors"
	CmdDebuggingEnabled       Command = "debuggingEnabled"
	CmdGetConnectionValue     Command = "getConnectionValue"
	CmdMessageFromOtherClient Command = "messageFromOtherClient"
	CmdNoodlModules           Command = "noodlModules"
)

// Commands received from viewers or the relay.
const (
	CmdRegistered           Command = "registered"
	CmdDisconnect           Command = "disconnect"
	CmdSelect               Command = "select"
	CmdInstancePorts        Command = "instanceports"
	CmdConnectionDebugPulse Command = "connectiondebugpulse"
	CmdDebugInspectorValues Command = "debuginspectorvalues"
	CmdConnectionValue      Command = "connectionValue"
	CmdShowWarning          Command = "showwarning"
	CmdClearWarnings        Command = "clearwarnings"
	CmdNodeLibrary          Command = "nodelibrary"
	CmdSendToOtherClients   Command = "sendToOtherClients"
	CmdGetNoodlModules      Command = "getNoodlModules"
	CmdComponentMetadata    Command = "componentMetadata"
	CmdProjectMetadata      Command = "projectMetadata"
)

// Role is the `type` field carried by register/registered.
type Role string

const (
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)
