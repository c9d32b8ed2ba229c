package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/dirmark/internal/cache"
	"github.com/any-hub/dirmark/internal/config"
	"github.com/any-hub/dirmark/internal/dirindex"
	"github.com/any-hub/dirmark/internal/logging"
	"github.com/any-hub/dirmark/internal/proxy"
	"github.com/any-hub/dirmark/internal/roadmap"
	"github.com/any-hub/dirmark/internal/server"
	"github.com/any-hub/dirmark/internal/server/routes"
	"github.com/any-hub/dirmark/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath   string
	checkOnly    bool
	showVersion  bool
	annotatePath string
	probeBase    string
	roadmapPath  string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	switch {
	case opts.showVersion:
		printVersion()
		return 0
	case opts.annotatePath != "":
		return runAnnotate(opts)
	case opts.roadmapPath != "":
		return runRoadmap(opts)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["hubs"] = len(cfg.Hubs)
		fields["credentials"] = config.CredentialModes(cfg.Hubs)
		fields["annotated"] = config.AnnotatedHubs(cfg.Hubs)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := server.NewHubRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Hub 注册表失败: %v\n", err)
		return 1
	}

	// CLI 启动遵循“配置 → HubRegistry → 磁盘缓存 → Fiber server”顺序，
	// 保证代理、cache-local 端点与标注器共享同一个缓存实例。
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg)
	proxyHandler := proxy.NewHandler(httpClient, logger, store, annotatorOptions(cfg))
	forwarder := proxy.NewForwarder(proxyHandler, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["hubs"] = len(cfg.Hubs)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["credentials"] = config.CredentialModes(cfg.Hubs)
	fields["annotated"] = config.AnnotatedHubs(cfg.Hubs)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, registry, store, forwarder, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// runAnnotate 对本地 HTML 目录页执行一次标注，结果写到 stdout，日志写到 stderr。
func runAnnotate(opts cliOptions) int {
	if opts.probeBase == "" {
		fmt.Fprintln(stdErr, "-annotate 需要同时指定 -probe-base")
		return 2
	}

	logger, err := logging.NewCLILogger("info", stdErr)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	prober, err := dirindex.NewHTTPProber(server.NewProbeClient(nil), opts.probeBase)
	if err != nil {
		fmt.Fprintf(stdErr, "探测地址无效: %v\n", err)
		return 2
	}

	page, err := os.Open(opts.annotatePath)
	if err != nil {
		fmt.Fprintf(stdErr, "读取目录页失败: %v\n", err)
		return 1
	}
	defer page.Close()

	annotator := dirindex.New(prober, dirindex.Options{}, logger)
	report, err := annotator.AnnotatePage(context.Background(), page, stdOut)
	if err != nil {
		fmt.Fprintf(stdErr, "标注失败: %v\n", err)
		return 1
	}

	fields := logging.AnnotateFields("", opts.annotatePath, report)
	fields["probe_base"] = opts.probeBase
	logger.WithFields(fields).Info("annotate_complete")
	return 0
}

// runRoadmap 加载并校验路线图配置，输出摘要。
func runRoadmap(opts cliOptions) int {
	logger, err := logging.NewCLILogger("info", stdOut)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	cfg, err := roadmap.Load(opts.roadmapPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载路线图配置失败: %v\n", err)
		return 1
	}

	projects := make([]string, 0, len(cfg.Projects))
	for _, p := range cfg.Projects {
		projects = append(projects, p.Name)
	}
	fields := logging.BaseFields("check_roadmap", opts.roadmapPath)
	fields["organization"] = cfg.Organization
	fields["milestone_start"] = cfg.MilestoneStart
	fields["milestone_end"] = cfg.MilestoneEnd
	fields["target_repo"] = cfg.TargetRepo
	fields["projects"] = strings.Join(projects, ",")
	fields["result"] = "ok"
	logger.WithFields(fields).Info("路线图配置校验通过")
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("dirmark", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag   string
		checkOnly    bool
		showVer      bool
		annotatePath string
		probeBase    string
		roadmapPath  string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 DIRMARK_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&annotatePath, "annotate", "", "对本地 HTML 目录页执行一次标注并输出到 stdout")
	fs.StringVar(&probeBase, "probe-base", "", "标注探测的 cache-local 端点地址，例如 http://127.0.0.1:8080")
	fs.StringVar(&roadmapPath, "roadmap", "", "校验路线图配置文件后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("未知参数: %s", strings.Join(fs.Args(), " "))
	}

	path := os.Getenv("DIRMARK_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:   path,
		checkOnly:    checkOnly,
		showVersion:  showVer,
		annotatePath: annotatePath,
		probeBase:    probeBase,
		roadmapPath:  roadmapPath,
	}, nil
}

func annotatorOptions(cfg *config.Config) dirindex.Options {
	return dirindex.Options{
		MarkerClass:     cfg.Annotator.MarkerClass,
		ListingSelector: cfg.Annotator.ListingSelector,
		Strict:          cfg.Annotator.Strict,
	}
}

func startHTTPServer(
	cfg *config.Config,
	registry *server.HubRegistry,
	store cache.Store,
	proxyHandler server.ProxyHandler,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:              logger,
		Registry:            registry,
		Proxy:               proxyHandler,
		ListenPort:          port,
		DiagnosticsPrefixes: routes.Prefixes(),
	})
	if err != nil {
		return err
	}
	routes.RegisterHubRoutes(app, registry)
	routes.RegisterListingRoutes(app, routes.ListingOptions{
		Registry:    registry,
		Store:       store,
		Logger:      logger,
		MarkerClass: cfg.Annotator.MarkerClass,
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
