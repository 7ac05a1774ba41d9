package commands

import (
	"slices"
	"strings"
)

// Kind identifies one command independent of the alias used to invoke it.
type Kind int

const (
	KindNone Kind = iota

	// User tier.
	KindHelp
	KindHelpPlugin
	KindAuth
	KindSetAPIKey
	KindResetAPIKey
	KindSetModel
	KindResetModel
	KindModel
	KindID
	KindReset

	// Admin tier.
	KindResume
	KindStop
	KindReconf
	KindResetAll
	KindScanPlugins
	KindListPlugins
	KindSetPriority
	KindReloadPlugin
	KindEnablePlugin
	KindDisablePlugin
	KindInstallPlugin
	KindUninstallPlugin
	KindUpdatePlugin
	KindDebug
	KindVerify
	KindDelete
)

var kindNames = map[Kind]string{
	KindHelp:            "help",
	KindHelpPlugin:      "helpp",
	KindAuth:            "auth",
	KindSetAPIKey:       "set_openai_api_key",
	KindResetAPIKey:     "reset_openai_api_key",
	KindSetModel:        "set_gpt_model",
	KindResetModel:      "reset_gpt_model",
	KindModel:           "gpt_model",
	KindID:              "id",
	KindReset:           "reset",
	KindResume:          "resume",
	KindStop:            "stop",
	KindReconf:          "reconf",
	KindResetAll:        "resetall",
	KindScanPlugins:     "scanp",
	KindListPlugins:     "plist",
	KindSetPriority:     "setpri",
	KindReloadPlugin:    "reloadp",
	KindEnablePlugin:    "enablep",
	KindDisablePlugin:   "disablep",
	KindInstallPlugin:   "installp",
	KindUninstallPlugin: "uninstallp",
	KindUpdatePlugin:    "updatep",
	KindDebug:           "debug",
	KindVerify:          "verify",
	KindDelete:          "delete",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "none"
}

type Tier int

const (
	TierUser Tier = iota
	TierAdmin
)

func (t Tier) String() string {
	if t == TierAdmin {
		return "admin"
	}
	return "user"
}

// Definition describes one command. Aliases are matched case-sensitively;
// Args only feed the help text.
type Definition struct {
	Kind    Kind
	Name    string
	Aliases []string
	Args    []string
	Desc    string
	Tier    Tier
	Hidden  bool
}

// BuiltinDefinitions returns the command table. Every entry of
// clearMemoryCommands that starts with "#" adds an alias to reset, unless
// the alias is already taken.
func BuiltinDefinitions(clearMemoryCommands []string) []Definition {
	defs := []Definition{
		{Kind: KindHelp, Aliases: []string{"help", "帮助"}, Desc: "show this help"},
		{Kind: KindHelpPlugin, Aliases: []string{"help", "帮助"}, Args: []string{"<plugin>"}, Desc: "show detailed help for a plugin"},
		{Kind: KindAuth, Aliases: []string{"auth", "认证"}, Args: []string{"<password>"}, Desc: "authenticate as admin"},
		{Kind: KindSetAPIKey, Aliases: []string{"set_openai_api_key"}, Args: []string{"<api_key>"}, Desc: "set your own OpenAI api key"},
		{Kind: KindResetAPIKey, Aliases: []string{"reset_openai_api_key"}, Desc: "go back to the default api key"},
		{Kind: KindSetModel, Aliases: []string{"set_gpt_model"}, Args: []string{"<model>"}, Desc: "set your own model"},
		{Kind: KindResetModel, Aliases: []string{"reset_gpt_model"}, Desc: "go back to the default model"},
		{Kind: KindModel, Aliases: []string{"gpt_model"}, Desc: "show the model you are using"},
		{Kind: KindID, Aliases: []string{"id", "用户"}, Desc: "show your user id"},
		{Kind: KindReset, Aliases: []string{"reset", "重置会话"}, Desc: "reset the conversation"},

		{Kind: KindResume, Aliases: []string{"resume", "恢复服务"}, Desc: "resume the service", Tier: TierAdmin},
		{Kind: KindStop, Aliases: []string{"stop", "暂停服务"}, Desc: "pause the service", Tier: TierAdmin},
		{Kind: KindReconf, Aliases: []string{"reconf", "重载配置"}, Desc: "reload the configuration (plugin configs excluded)", Tier: TierAdmin},
		{Kind: KindResetAll, Aliases: []string{"resetall", "重置所有会话"}, Desc: "reset every conversation", Tier: TierAdmin},
		{Kind: KindScanPlugins, Aliases: []string{"scanp", "扫描插件"}, Desc: "scan the plugins directory for new plugins", Tier: TierAdmin},
		{Kind: KindListPlugins, Aliases: []string{"plist", "插件"}, Desc: "list plugins", Tier: TierAdmin},
		{Kind: KindSetPriority, Aliases: []string{"setpri", "设置插件优先级"}, Args: []string{"<plugin>", "<priority>"}, Desc: "set a plugin's priority, higher runs first", Tier: TierAdmin},
		{Kind: KindReloadPlugin, Aliases: []string{"reloadp", "重载插件"}, Args: []string{"<plugin>"}, Desc: "reload a plugin's configuration", Tier: TierAdmin},
		{Kind: KindEnablePlugin, Aliases: []string{"enablep", "启用插件"}, Args: []string{"<plugin>"}, Desc: "enable a plugin", Tier: TierAdmin},
		{Kind: KindDisablePlugin, Aliases: []string{"disablep", "禁用插件"}, Args: []string{"<plugin>"}, Desc: "disable a plugin", Tier: TierAdmin},
		{Kind: KindInstallPlugin, Aliases: []string{"installp", "安装插件"}, Args: []string{"<repo or plugin>"}, Desc: "install a plugin", Tier: TierAdmin},
		{Kind: KindUninstallPlugin, Aliases: []string{"uninstallp", "卸载插件"}, Args: []string{"<plugin>"}, Desc: "uninstall a plugin", Tier: TierAdmin},
		{Kind: KindUpdatePlugin, Aliases: []string{"updatep", "更新插件"}, Args: []string{"<plugin>"}, Desc: "update a plugin", Tier: TierAdmin},
		{Kind: KindDebug, Aliases: []string{"debug", "调试模式", "DEBUG"}, Desc: "toggle debug logging", Tier: TierAdmin},
		{Kind: KindVerify, Aliases: []string{"verify"}, Args: []string{"<days>", "[count]"}, Desc: "issue activation codes", Tier: TierAdmin, Hidden: true},
		{Kind: KindDelete, Aliases: []string{"delete"}, Args: []string{"<code>"}, Desc: "delete an activation code", Tier: TierAdmin, Hidden: true},
	}
	for i := range defs {
		defs[i].Name = defs[i].Kind.String()
	}

	taken := make(map[string]struct{})
	for _, d := range defs {
		for _, a := range d.Aliases {
			taken[a] = struct{}{}
		}
	}
	reset := slices.IndexFunc(defs, func(d Definition) bool { return d.Kind == KindReset })
	for _, c := range clearMemoryCommands {
		alias, ok := strings.CutPrefix(strings.TrimSpace(c), "#")
		if !ok || alias == "" {
			continue
		}
		if _, dup := taken[alias]; dup {
			continue
		}
		taken[alias] = struct{}{}
		defs[reset].Aliases = append(defs[reset].Aliases, alias)
	}
	return defs
}
