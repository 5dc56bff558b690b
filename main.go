package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/any-hub/offline-hub/internal/config"
)

// 子命令名称，同时作为 cliOptions.command 的取值。
const (
	commandServe       = "serve"
	commandInstall     = "install"
	commandActivate    = "activate"
	commandCheckConfig = "check-config"
	commandVersion     = "version"
)

// cliOptions 汇总 CLI 解析后的结果，便于在测试中注入。
type cliOptions struct {
	command    string
	configPath string
	envFile    string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(execute(os.Args[1:], run))
}

// exitCode 让 RunE 把业务退出码带回 execute。
type exitCode int

func (c exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(c))
}

// execute 解析参数并调用 action，参数错误返回 2。
func execute(args []string, action func(cliOptions) int) int {
	root := newRootCommand(action)
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	fmt.Fprintln(stdErr, err.Error())
	return 2
}

// newRootCommand 构建命令树；不带子命令时等同于 serve。
func newRootCommand(action func(cliOptions) int) *cobra.Command {
	var (
		configFlag string
		envFile    string
	)

	invoke := func(command string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			opts, err := buildOptions(command, configFlag, envFile)
			if err != nil {
				return err
			}
			if code := action(opts); code != 0 {
				return exitCode(code)
			}
			return nil
		}
	}

	root := &cobra.Command{
		Use:           "offline-hub",
		Short:         "预缓存静态资源并以 cache-first 方式代理源站",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          invoke(commandServe),
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_HUB_CONFIG 覆盖）")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "启动前加载的 .env 文件，不存在时忽略")

	root.AddCommand(
		&cobra.Command{Use: commandServe, Short: "install → activate 后启动 HTTP 服务", Args: cobra.NoArgs, RunE: invoke(commandServe)},
		&cobra.Command{Use: commandInstall, Short: "仅执行预缓存批次", Args: cobra.NoArgs, RunE: invoke(commandInstall)},
		&cobra.Command{Use: commandActivate, Short: "仅清理过期 generation", Args: cobra.NoArgs, RunE: invoke(commandActivate)},
		&cobra.Command{Use: commandCheckConfig, Short: "仅校验配置后退出", Args: cobra.NoArgs, RunE: invoke(commandCheckConfig)},
		&cobra.Command{Use: commandVersion, Short: "显示版本信息", Args: cobra.NoArgs, RunE: invoke(commandVersion)},
	)
	return root
}

// buildOptions 先加载 .env，再按 flag > OFFLINE_HUB_CONFIG > config.toml 计算配置路径。
func buildOptions(command, configFlag, envFile string) (cliOptions, error) {
	if command != commandVersion && envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return cliOptions{}, fmt.Errorf("加载 %s 失败: %w", envFile, err)
		}
	}

	path := os.Getenv("OFFLINE_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		command:    command,
		configPath: path,
		envFile:    envFile,
	}, nil
}

// parseCLIFlags 仅解析参数而不执行业务流程，供测试检查优先级。
func parseCLIFlags(args []string) (cliOptions, error) {
	var parsed cliOptions
	root := newRootCommand(func(opts cliOptions) int {
		parsed = opts
		return 0
	})
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	if err := root.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	return parsed, nil
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.command == commandVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.command == commandCheckConfig {
		return checkConfig(cfg, logger, opts)
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}
	defer svc.Close()

	switch opts.command {
	case commandInstall:
		return svc.install(opts)
	case commandActivate:
		return svc.activateOnly(opts)
	default:
		return svc.serve(opts)
	}
}
