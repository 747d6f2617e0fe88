package config_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xplshn/jcc/pkg/config"
)

var _ = Describe("Config", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = config.NewConfig()
	})

	DescribeTable("SetTarget",
		func(goos, goarch, target, want string, base uint64) {
			Expect(cfg.SetTarget(goos, goarch, target)).To(Succeed())
			Expect(cfg.Target).To(Equal(want))
			Expect(cfg.ImageBase).To(Equal(base))
			Expect(cfg.WordSize).To(Equal(8))
			Expect(cfg.StackAlignment).To(Equal(16))
		},
		Entry("linux host", "linux", "amd64", "", config.TargetLinux, uint64(0x08000000)),
		Entry("windows host", "windows", "amd64", "", config.TargetWindows, uint64(0x140000000)),
		Entry("explicit windows", "linux", "amd64", "windows", config.TargetWindows, uint64(0x140000000)),
		Entry("non-amd64 host falls back to linux", "linux", "arm64", "", config.TargetLinux, uint64(0x08000000)),
	)

	It("rejects unknown targets", func() {
		Expect(cfg.SetTarget("linux", "amd64", "plan9")).To(MatchError(ContainSubstring("unsupported target")))
	})

	It("toggles warnings and features by name", func() {
		Expect(cfg.ApplyFlag("-Wshadow")).To(BeTrue())
		Expect(cfg.IsWarningEnabled(config.WarnShadow)).To(BeTrue())
		Expect(cfg.ApplyFlag("-Fno-comments")).To(BeTrue())
		Expect(cfg.IsFeatureEnabled(config.FeatComments)).To(BeFalse())
		Expect(cfg.ApplyFlag("-Wbogus")).To(BeFalse())
	})

	It("lets individual flags override -Wno-all", func() {
		unknown := cfg.ProcessFlags([]string{"Wunused-var", "Wno-all", "Fno-global-let", "Fnope"})
		Expect(unknown).To(Equal([]string{"Fnope"}))
		Expect(cfg.IsWarningEnabled(config.WarnUnusedVar)).To(BeTrue())
		Expect(cfg.IsWarningEnabled(config.WarnUnreachableCode)).To(BeFalse())
		Expect(cfg.IsFeatureEnabled(config.FeatGlobalLet)).To(BeFalse())
	})

	It("reads overrides from the environment", func() {
		GinkgoT().Setenv("JCC_TARGET", "windows")
		GinkgoT().Setenv("JCC_VERBOSE", "1")
		cfg.ApplyEnv()
		Expect(cfg.Target).To(Equal("windows"))
		Expect(cfg.Verbose).To(BeTrue())
	})
})
